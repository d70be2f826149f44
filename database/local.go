package database

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"slot-booking/model"
)

// LocalDB is the on-disk layout of the local JSON database.
type LocalDB struct {
	Events []model.Event    `json:"events"`
	Users  []model.UserData `json:"users"`
}

// ReadLocalDB loads the JSON database at path, creating an empty one when
// the file does not exist yet.
func ReadLocalDB(path string) (LocalDB, error) {
	db := LocalDB{Events: []model.Event{}, Users: []model.UserData{}}

	fileBytes, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return db, CommitToLocalDB(path, db)
	} else if err != nil {
		return LocalDB{}, err
	}

	err = json.Unmarshal(fileBytes, &db)
	if err != nil {
		return LocalDB{}, err
	}

	return db, nil
}

func CommitToLocalDB(path string, db LocalDB) error {
	dbBytes, err := json.MarshalIndent(db, "", "	")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, dbBytes, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

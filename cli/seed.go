package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"slot-booking/model"
)

type seedUser struct {
	model.UserData
	Password string `json:"password"`
}

type seedFile struct {
	Events []model.Event `json:"events"`
	Users  []seedUser    `json:"users"`
}

func newSeedCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load events and users from a JSON file into the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := readSeedFile(file)
			if err != nil {
				return err
			}

			_, log, stores, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close(cmd.Context())

			for _, u := range seed.Users {
				user, err := u.toUserData()
				if err != nil {
					return err
				}
				created, err := stores.Users.CreateUser(cmd.Context(), user)
				if err != nil {
					return fmt.Errorf("create user %s: %w", user.Login, err)
				}
				log.Info("user created", "user_id", created.Id, "login", created.Login, "role", created.Role)
			}

			for _, event := range seed.Events {
				created, err := stores.Events.CreateEvent(cmd.Context(), event)
				if err != nil {
					return fmt.Errorf("create event %q: %w", event.Name, err)
				}
				log.Info("event created", "event_id", created.Id, "total_slots", created.TotalSlots)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users and %d events\n", len(seed.Users), len(seed.Events))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "seed JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readSeedFile(path string) (seedFile, error) {
	var seed seedFile
	data, err := os.ReadFile(path)
	if err != nil {
		return seed, fmt.Errorf("read seed file: %w", err)
	}
	if err := json.Unmarshal(data, &seed); err != nil {
		return seed, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return seed, nil
}

// toUserData hashes a plain password. Users that already carry a hash are
// stored as they are.
func (u seedUser) toUserData() (model.UserData, error) {
	user := u.UserData
	if u.Password == "" {
		if user.HashedPassword == "" {
			return model.UserData{}, fmt.Errorf("user %s has no password", user.Login)
		}
		return user, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		return model.UserData{}, err
	}
	user.HashedPassword = string(hash)
	return user, nil
}

package model

type UserData struct {
	Id             string `json:"id" bson:"_id"`
	Login          string `json:"login" bson:"login,omitempty"`
	HashedPassword string `json:"password_hash" bson:"password_hash,omitempty"`
	Role           string `json:"role" bson:"role,omitempty"`
	TelegramChatId *int64 `json:"telegram_chat_id,omitempty" bson:"telegram_chat_id,omitempty"`
}

const RoleAdmin = "admin"

package models

import "time"

type User struct {
	ID       string    `json:"id" gorm:"column:id;primaryKey;size:32"`
	Email    string    `json:"email,omitempty" gorm:"column:email;uniqueIndex"`
	Username string    `json:"username,omitempty" gorm:"column:username"`
	Created  time.Time `json:"created" gorm:"column:created;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (User) TableName() string {
	return "users"
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	ID           string `json:"id"`
	Email        string `json:"email,omitempty"`
	IsSuperAdmin bool   `json:"is_super_admin"`
}

type UserStats struct {
	Total   int `json:"total"`
	Banned  int `json:"banned"`
	Soon    int `json:"soon"`
	Expired int `json:"expired"`
}

type UserSummary struct {
	User
	Stats UserStats `json:"stats"`
}

package model

// User is the minimal identity attached to seedlets, comments and interests.
type User struct {
	Id       string `json:"id"`
	Username string `json:"username"`
}

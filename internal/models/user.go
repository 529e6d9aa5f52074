package models

import "time"

type User struct {
	ID                 string     `json:"id"`
	Username           string     `json:"username"`
	Email              string     `json:"email"`
	Avatar             *string    `json:"avatar"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          *time.Time `json:"updatedAt,omitempty"`
	PasswordHash       string     `json:"-"`
	SecurityQuestion   *string    `json:"-"`
	SecurityAnswerHash *string    `json:"-"`
}

func (u *User) GetAvatar() string {
	if u.Avatar != nil {
		return *u.Avatar
	}
	return ""
}

func (u *User) HasSecurityQuestion() bool {
	return u.SecurityQuestion != nil && *u.SecurityQuestion != ""
}

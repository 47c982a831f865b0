package models

import "time"

// User is an account that may be referenced by login from issues.
type User struct {
	Login  string
	Name   string
	Email  string
	Active bool
}

// ActionPlan groups issues planned for a deadline. Issues reference plans by key only.
type ActionPlan struct {
	Key         string
	Name        string
	Status      string
	ProjectUUID string
	UserLogin   string
	Deadline    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

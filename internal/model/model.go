package model

import (
	"errors"
	"time"
)

type Role string

const (
	RoleStudent         Role = "student"
	RoleAdmin           Role = "admin"
	RoleCenterIncubator Role = "center_incubator"
	RoleCenterCati      Role = "center_cati"
	RoleCenterCde       Role = "center_cde"
)

var ErrInvalidRole = errors.New("invalid role")

func ParseRole(value string) (Role, error) {
	switch Role(value) {
	case RoleStudent, RoleAdmin, RoleCenterIncubator, RoleCenterCati, RoleCenterCde:
		return Role(value), nil
	default:
		return "", ErrInvalidRole
	}
}

// Center reports the assignment center a center role reviews for.
func (r Role) Center() (Center, bool) {
	switch r {
	case RoleCenterIncubator:
		return CenterIncubator, true
	case RoleCenterCati:
		return CenterCati, true
	case RoleCenterCde:
		return CenterCde, true
	default:
		return "", false
	}
}

type Center string

const (
	CenterIncubator Center = "incubator"
	CenterCati      Center = "cati"
	CenterCde       Center = "cde"
)

var ErrInvalidCenter = errors.New("invalid center")

func ParseCenter(value string) (Center, error) {
	switch Center(value) {
	case CenterIncubator, CenterCati, CenterCde:
		return Center(value), nil
	default:
		return "", ErrInvalidCenter
	}
}

type Status string

const (
	StatusSaved      Status = "saved"
	StatusSent       Status = "sent"
	StatusInProgress Status = "in_progress"
	StatusAssigned   Status = "assigned"
	StatusRejected   Status = "rejected"
)

var ErrInvalidStatus = errors.New("invalid status")

func ParseStatus(value string) (Status, error) {
	switch Status(value) {
	case StatusSaved, StatusSent, StatusInProgress, StatusAssigned, StatusRejected:
		return Status(value), nil
	default:
		return "", ErrInvalidStatus
	}
}

// Terminal statuses admit no further transition.
func (s Status) Terminal() bool {
	return s == StatusAssigned || s == StatusRejected
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

type TeamMember struct {
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	StudentID         string `json:"student_id"`
	YearOfInscription int    `json:"year_of_inscription"`
	Speciality        string `json:"speciality"`
	PhoneNumber       string `json:"phone_number"`
	Email             string `json:"email"`
}

type Project struct {
	ID          string
	Title       string
	Description string
	Team        []TeamMember
	CreatedBy   string
	Status      Status
	AssignedTo  *Center
	Deadline    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type GlobalDeadline struct {
	Deadline time.Time
}

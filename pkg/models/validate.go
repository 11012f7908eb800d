package models

import (
	"strconv"
	"strings"
)

// ValidationError reports malformed caller input. It never reaches the lending engine.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// BookInput is the raw form of an add-book request.
type BookInput struct {
	Title  string `form:"title" json:"title"`
	Author string `form:"author" json:"author"`
	Year   string `form:"year" json:"year"`
}

// Book validates the input and builds an unsaved book.
func (in BookInput) Book() (Book, error) {
	title := strings.TrimSpace(in.Title)
	author := strings.TrimSpace(in.Author)
	if title == "" {
		return Book{}, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if author == "" {
		return Book{}, &ValidationError{Field: "author", Reason: "must not be empty"}
	}
	year, err := ParseYear("year", in.Year)
	if err != nil {
		return Book{}, err
	}
	return NewBook(title, author, year), nil
}

// RegistrationInput is the raw form of a registration request.
type RegistrationInput struct {
	Name      string `form:"name" json:"name"`
	Surname   string `form:"surname" json:"surname"`
	Email     string `form:"email" json:"email"`
	Password  string `form:"psw" json:"psw"`
	BirthYear string `form:"years" json:"years"`
}

// Reader validates the input and builds an unsaved reader with a hashed password.
func (in RegistrationInput) Reader() (Reader, error) {
	required := []struct{ field, value string }{
		{"name", in.Name},
		{"surname", in.Surname},
		{"email", in.Email},
		{"psw", in.Password},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return Reader{}, &ValidationError{Field: r.field, Reason: "must not be empty"}
		}
	}
	year, err := ParseYear("years", in.BirthYear)
	if err != nil {
		return Reader{}, err
	}
	return NewReader(strings.TrimSpace(in.Name), strings.TrimSpace(in.Surname),
		strings.TrimSpace(in.Email), in.Password, year)
}

// ParseYear accepts a non-empty string of decimal digits.
func ParseYear(field, s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, &ValidationError{Field: field, Reason: "must not be empty"}
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, &ValidationError{Field: field, Reason: "must be numeric"}
		}
	}
	year, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ValidationError{Field: field, Reason: "out of range"}
	}
	return year, nil
}

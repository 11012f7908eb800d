package models

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Reader is a registered library member as stored in the reader table.
type Reader struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Surname      string `gorm:"not null"`
	Email        string `gorm:"not null;uniqueIndex"`
	PasswordHash string `gorm:"column:psw_hash;not null"`
	BirthYear    int    `gorm:"column:years"`
}

func (Reader) TableName() string { return "reader" }

// Book is a catalog entry. ReaderID is the current holder, nil while the book is available.
type Book struct {
	ID       uint   `gorm:"primaryKey"`
	Title    string `gorm:"not null"`
	Author   string `gorm:"not null"`
	Year     int    `gorm:"column:years"`
	ReaderID *uint  `gorm:"index"`

	Holder *Reader `gorm:"foreignKey:ReaderID"`
}

func (Book) TableName() string { return "book" }

// BookView is the display projection of a Book.
type BookView struct {
	ID     uint   `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	Year   int    `json:"year"`
}

// Principal is the session-facing view of a Reader.
type Principal struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Email   string `json:"email"`
}

// NewBook builds an unsaved, available book.
func NewBook(title, author string, year int) Book {
	return Book{Title: title, Author: author, Year: year}
}

// NewReader builds an unsaved reader, hashing the plaintext password.
func NewReader(name, surname, email, password string, birthYear int) (Reader, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Reader{}, fmt.Errorf("hash password: %w", err)
	}
	return Reader{
		Name:         name,
		Surname:      surname,
		Email:        email,
		PasswordHash: string(hash),
		BirthYear:    birthYear,
	}, nil
}

func (b Book) Available() bool { return b.ReaderID == nil }

// HeldBy reports whether the book is currently lent to readerID.
func (b Book) HeldBy(readerID uint) bool {
	return b.ReaderID != nil && *b.ReaderID == readerID
}

func (b Book) View() BookView {
	return BookView{ID: b.ID, Title: b.Title, Author: b.Author, Year: b.Year}
}

// CheckPassword compares a submitted plaintext password with the stored hash.
func (r Reader) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(r.PasswordHash), []byte(password)) == nil
}

func (r Reader) Principal() Principal {
	return Principal{ID: r.ID, Name: r.Name, Surname: r.Surname, Email: r.Email}
}

func (r Reader) String() string {
	return r.Name + " " + r.Surname
}

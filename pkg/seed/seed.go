package seed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"lending/pkg/lending"
	"lending/pkg/models"
)

// Delimiter separates title, author and year on an import line.
const Delimiter = "$!$"

// LineError describes a malformed import line.
type LineError struct {
	Line   int
	Reason string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Catalog is the part of the library the bootstrap needs.
type Catalog interface {
	BookCount() int
	ReaderCount() int
	AddBooks(ctx context.Context, books []models.Book) (lending.Result, error)
	AddReader(ctx context.Context, reader *models.Reader) (lending.Result, error)
}

// Options controls Bootstrap.
type Options struct {
	// BooksFile is the import source; empty disables book seeding.
	BooksFile     string
	Strict        bool
	DefaultReader DefaultReader
}

type DefaultReader struct {
	Name      string
	Surname   string
	Email     string
	Password  string
	BirthYear int
}

// MaxLineLength bounds a single import line. Longer lines are malformed.
const MaxLineLength = 64 * 1024

// ParseBooks reads one book per line. Blank lines are ignored. In strict mode the
// first malformed line aborts parsing; otherwise it is logged and skipped.
func ParseBooks(r io.Reader, strict bool, logger *zap.Logger) ([]models.Book, error) {
	var books []models.Book
	reader := bufio.NewReader(r)
	line := 0
	for {
		raw, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read import source: %w", readErr)
		}
		if raw == "" && readErr != nil {
			break
		}
		line++

		book, err := parseRaw(line, raw)
		switch {
		case err == nil && book != nil:
			books = append(books, *book)
		case err != nil && strict:
			return nil, err
		case err != nil:
			logger.Warn("Skipping malformed import line", zap.Int("line", line), zap.Error(err))
		}

		if readErr != nil {
			break
		}
	}
	return books, nil
}

// parseRaw returns nil for a blank line.
func parseRaw(line int, raw string) (*models.Book, error) {
	if len(raw) > MaxLineLength {
		return nil, &LineError{Line: line, Reason: fmt.Sprintf("longer than %d bytes", MaxLineLength)}
	}
	text := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
	if text == "" {
		return nil, nil
	}
	book, err := parseLine(line, text)
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func parseLine(line int, text string) (models.Book, error) {
	fields := strings.Split(text, Delimiter)
	if len(fields) != 3 {
		return models.Book{}, &LineError{Line: line, Reason: fmt.Sprintf("want 3 fields, got %d", len(fields))}
	}
	book, err := models.BookInput{Title: fields[0], Author: fields[1], Year: fields[2]}.Book()
	if err != nil {
		return models.Book{}, &LineError{Line: line, Reason: err.Error()}
	}
	return book, nil
}

// ReadBooksFile parses the import file at path.
func ReadBooksFile(path string, strict bool, logger *zap.Logger) ([]models.Book, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	books, err := ParseBooks(f, strict, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return books, nil
}

// Bootstrap fills an empty catalog from the import file and registers the default
// reader when no reader exists. It is a no-op on a populated library.
func Bootstrap(ctx context.Context, lib Catalog, opts Options, logger *zap.Logger) error {
	if lib.BookCount() == 0 && opts.BooksFile != "" {
		if err := seedBooks(ctx, lib, opts, logger); err != nil {
			return err
		}
	}

	if lib.ReaderCount() == 0 {
		d := opts.DefaultReader
		reader, err := models.NewReader(d.Name, d.Surname, d.Email, d.Password, d.BirthYear)
		if err != nil {
			return fmt.Errorf("default reader: %w", err)
		}
		res, err := lib.AddReader(ctx, &reader)
		if err != nil {
			return fmt.Errorf("add default reader: %w", err)
		}
		if !res.OK() {
			return fmt.Errorf("add default reader: %w", res.Err)
		}
		logger.Info("Default reader created", zap.Uint("reader_id", reader.ID), zap.String("email", reader.Email))
	}
	return nil
}

func seedBooks(ctx context.Context, lib Catalog, opts Options, logger *zap.Logger) error {
	books, err := ReadBooksFile(opts.BooksFile, opts.Strict, logger)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !opts.Strict {
			logger.Warn("Import file not found, catalog left empty", zap.String("path", opts.BooksFile))
			return nil
		}
		return err
	}
	if len(books) == 0 {
		logger.Warn("Import file has no books", zap.String("path", opts.BooksFile))
		return nil
	}

	if _, err := lib.AddBooks(ctx, books); err != nil {
		return fmt.Errorf("seed books: %w", err)
	}
	logger.Info("Catalog seeded", zap.String("path", opts.BooksFile), zap.Int("books", len(books)))
	return nil
}

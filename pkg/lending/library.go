package lending

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"lending/pkg/models"
	"lending/pkg/store"
)

// Store is the durable side of the library. Each mutating call is one transaction.
type Store interface {
	Books(ctx context.Context) ([]models.Book, error)
	Readers(ctx context.Context) ([]models.Reader, error)
	InsertBook(ctx context.Context, book *models.Book) error
	InsertBooks(ctx context.Context, books []models.Book) error
	InsertReader(ctx context.Context, reader *models.Reader) error
	DeleteBooks(ctx context.Context, ids []uint) error
	SetHolder(ctx context.Context, ids []uint, holder *uint) error
	ReaderByEmail(ctx context.Context, email string) (*models.Reader, error)
}

// Library keeps an in-memory index of books and readers in step with the store.
// Every mutation validates, writes the store and updates the index under one lock,
// so the index only changes after the store transaction committed.
type Library struct {
	mu      sync.RWMutex
	store   Store
	books   map[uint]models.Book
	readers map[uint]models.Reader
	logger  *zap.Logger
}

// New builds the library and loads the index from the store.
func New(ctx context.Context, st Store, logger *zap.Logger) (*Library, error) {
	l := &Library{
		store:   st,
		books:   make(map[uint]models.Book),
		readers: make(map[uint]models.Reader),
		logger:  logger,
	}
	if err := l.load(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Library) load(ctx context.Context) error {
	readers, err := l.store.Readers(ctx)
	if err != nil {
		return storeError("load readers", err)
	}
	books, err := l.store.Books(ctx)
	if err != nil {
		return storeError("load books", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range readers {
		l.readers[r.ID] = r
	}
	for _, b := range books {
		l.books[b.ID] = b
	}

	l.logger.Info("Library index loaded",
		zap.Int("books", len(l.books)),
		zap.Int("readers", len(l.readers)),
	)
	return nil
}

// AllBooks lists every book, ascending by id.
func (l *Library) AllBooks() []models.BookView {
	return views(l.sortedBooks(func(models.Book) bool { return true }))
}

// AvailableBooks lists books without a holder, ascending by id.
func (l *Library) AvailableBooks() []models.BookView {
	return views(l.sortedBooks(models.Book.Available))
}

// ReaderBooks lists the books held by readerID, ascending by id.
// An unknown reader is reported as ErrNotFound.
func (l *Library) ReaderBooks(readerID uint) ([]models.Book, error) {
	if _, ok := l.Reader(readerID); !ok {
		return nil, fmt.Errorf("%w: reader %d is not registered", ErrNotFound, readerID)
	}
	return l.sortedBooks(func(b models.Book) bool { return b.HeldBy(readerID) }), nil
}

func (l *Library) Book(id uint) (models.Book, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.books[id]
	return cloneBook(b), ok
}

func (l *Library) Reader(id uint) (models.Reader, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.readers[id]
	return r, ok
}

// LoadUser restores the session principal for a stored reader id.
func (l *Library) LoadUser(id uint) (models.Principal, bool) {
	r, ok := l.Reader(id)
	if !ok {
		return models.Principal{}, false
	}
	return r.Principal(), true
}

// KnownBooks keeps the ids present in the catalog, in input order.
func (l *Library) KnownBooks(ids []uint) []uint {
	l.mu.RLock()
	defer l.mu.RUnlock()
	known := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := l.books[id]; ok {
			known = append(known, id)
		}
	}
	return known
}

func (l *Library) BookCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.books)
}

func (l *Library) ReaderCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.readers)
}

// AddBook stores a new available book and sets book.ID.
func (l *Library) AddBook(ctx context.Context, book *models.Book) (Result, error) {
	row := newRow(*book)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.InsertBook(ctx, &row); err != nil {
		return Result{}, storeError("add book", err)
	}
	l.books[row.ID] = row
	book.ID = row.ID
	book.ReaderID = nil

	l.logger.Info("Book added", zap.Uint("book_id", row.ID), zap.String("title", row.Title))
	return done("book %q added to the library", row.Title), nil
}

// AddBooks stores all books in one transaction and sets their ids.
// If the transaction fails none of them reaches the index.
func (l *Library) AddBooks(ctx context.Context, books []models.Book) (Result, error) {
	rows := make([]models.Book, len(books))
	for i, b := range books {
		rows[i] = newRow(b)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.InsertBooks(ctx, rows); err != nil {
		return Result{}, storeError("add books", err)
	}
	for i, row := range rows {
		l.books[row.ID] = row
		books[i].ID = row.ID
		books[i].ReaderID = nil
	}

	l.logger.Info("Books added", zap.Int("count", len(rows)))
	return done("all %d books added to the library", len(rows)), nil
}

func (l *Library) DeleteBook(ctx context.Context, id uint) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.books[id]; !ok {
		return failed(ErrNotFound, "book %d is not in the library", id), nil
	}
	if err := l.store.DeleteBooks(ctx, []uint{id}); err != nil {
		return Result{}, storeError("delete book", err)
	}
	delete(l.books, id)

	l.logger.Info("Book deleted", zap.Uint("book_id", id))
	return done("book %d removed from the library", id), nil
}

// DeleteBooks removes every listed book, or none of them if any id is unknown.
func (l *Library) DeleteBooks(ctx context.Context, ids []uint) (Result, error) {
	if len(ids) == 0 {
		return failed(ErrEmptyBatch, "no books selected"), nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range ids {
		if _, ok := l.books[id]; !ok {
			return l.reject("delete", failed(ErrNotFound, "book %d is not in the library", id)), nil
		}
	}

	batch := unique(ids)
	if err := l.store.DeleteBooks(ctx, batch); err != nil {
		return Result{}, storeError("delete books", err)
	}
	for _, id := range batch {
		delete(l.books, id)
	}

	l.logger.Info("Books deleted", zap.Uints("book_ids", batch))
	return done("books %v removed from the library", batch), nil
}

// AddReader stores a new reader and sets reader.ID. Callers check email uniqueness
// beforehand; a duplicate that slips through is reported as ErrConflict.
func (l *Library) AddReader(ctx context.Context, reader *models.Reader) (Result, error) {
	row := *reader
	row.ID = 0

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.InsertReader(ctx, &row); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return l.reject("register", failed(ErrConflict, "reader with email %s is already registered", row.Email)), nil
		}
		return Result{}, storeError("add reader", err)
	}
	l.readers[row.ID] = row
	reader.ID = row.ID

	l.logger.Info("Reader registered", zap.Uint("reader_id", row.ID))
	return done("reader %q registered", row.String()), nil
}

// FindReaderByEmail looks the reader up in the store; nil when there is no match.
func (l *Library) FindReaderByEmail(ctx context.Context, email string) (*models.Reader, error) {
	reader, err := l.store.ReaderByEmail(ctx, email)
	if err != nil {
		return nil, storeError("find reader", err)
	}
	return reader, nil
}

// LendBooks gives every listed book to readerID, or none of them. Ids are checked in
// input order and the first failing id decides the message.
func (l *Library) LendBooks(ctx context.Context, readerID uint, ids []uint) (Result, error) {
	if len(ids) == 0 {
		return failed(ErrEmptyBatch, "no books selected"), nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.readers[readerID]; !ok {
		return l.reject("lend", failed(ErrNotFound, "reader %d is not registered", readerID)), nil
	}
	for _, id := range ids {
		b, ok := l.books[id]
		if !ok {
			return l.reject("lend", failed(ErrNotFound, "book %d is not in the library", id)), nil
		}
		if !b.Available() {
			return l.reject("lend", failed(ErrConflict, "book %d is not available", id)), nil
		}
	}

	batch := unique(ids)
	if err := l.store.SetHolder(ctx, batch, &readerID); err != nil {
		return Result{}, storeError("lend books", err)
	}
	for _, id := range batch {
		b := l.books[id]
		holder := readerID
		b.ReaderID = &holder
		l.books[id] = b
	}

	l.logger.Info("Books lent", zap.Uint("reader_id", readerID), zap.Uints("book_ids", batch))
	return done("books %v lent to reader %d", batch, readerID), nil
}

// ReturnBooks takes every listed book back from readerID, or none of them.
func (l *Library) ReturnBooks(ctx context.Context, readerID uint, ids []uint) (Result, error) {
	if len(ids) == 0 {
		return failed(ErrEmptyBatch, "no books selected"), nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.readers[readerID]; !ok {
		return l.reject("return", failed(ErrNotFound, "reader %d is not registered", readerID)), nil
	}
	for _, id := range ids {
		b, ok := l.books[id]
		if !ok {
			return l.reject("return", failed(ErrNotFound, "book %d is not in the library", id)), nil
		}
		if b.Available() {
			return l.reject("return", failed(ErrConflict, "book %d is already in the library", id)), nil
		}
		if !b.HeldBy(readerID) {
			return l.reject("return", failed(ErrConflict, "book %d is held by another reader", id)), nil
		}
	}

	batch := unique(ids)
	if err := l.store.SetHolder(ctx, batch, nil); err != nil {
		return Result{}, storeError("return books", err)
	}
	for _, id := range batch {
		b := l.books[id]
		b.ReaderID = nil
		l.books[id] = b
	}

	l.logger.Info("Books returned", zap.Uint("reader_id", readerID), zap.Uints("book_ids", batch))
	return done("books %v returned by reader %d", batch, readerID), nil
}

func (l *Library) reject(op string, r Result) Result {
	l.logger.Info("Operation rejected", zap.String("op", op), zap.String("reason", r.Message))
	return r
}

func (l *Library) sortedBooks(keep func(models.Book) bool) []models.Book {
	l.mu.RLock()
	books := make([]models.Book, 0, len(l.books))
	for _, b := range l.books {
		if keep(b) {
			books = append(books, cloneBook(b))
		}
	}
	l.mu.RUnlock()

	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books
}

func views(books []models.Book) []models.BookView {
	out := make([]models.BookView, len(books))
	for i, b := range books {
		out[i] = b.View()
	}
	return out
}

// newRow strips identity and linkage from a book about to be inserted.
func newRow(b models.Book) models.Book {
	return models.Book{Title: b.Title, Author: b.Author, Year: b.Year}
}

func cloneBook(b models.Book) models.Book {
	if b.ReaderID != nil {
		holder := *b.ReaderID
		b.ReaderID = &holder
	}
	return b
}

// unique drops repeated ids, keeping first occurrences in order.
func unique(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

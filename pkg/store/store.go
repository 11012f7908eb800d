package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"lending/pkg/circuitbreaker"
	"lending/pkg/models"
)

var (
	// ErrUnavailable is returned while the circuit breaker rejects store calls.
	ErrUnavailable = errors.New("store unavailable")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate record")
	// ErrRowCount is returned when a batch touches a different number of rows than requested.
	ErrRowCount = errors.New("unexpected number of affected rows")
)

// Store persists books and readers. Every mutating call is one transaction.
type Store struct {
	db      *gorm.DB
	breaker *circuitbreaker.CircuitBreaker
}

// New wraps db. A nil breaker disables fail-fast behaviour.
func New(db *gorm.DB, breaker *circuitbreaker.CircuitBreaker) *Store {
	return &Store{db: db, breaker: breaker}
}

// CreateSchema creates the reader and book tables if they are absent.
func (s *Store) CreateSchema(ctx context.Context) error {
	return s.guard(func() error {
		return s.db.WithContext(ctx).AutoMigrate(&models.Reader{}, &models.Book{})
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.guard(func() error {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
}

func (s *Store) Books(ctx context.Context) ([]models.Book, error) {
	var books []models.Book
	err := s.guard(func() error {
		return s.db.WithContext(ctx).Order("id").Find(&books).Error
	})
	if err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	return books, nil
}

func (s *Store) Readers(ctx context.Context) ([]models.Reader, error) {
	var readers []models.Reader
	err := s.guard(func() error {
		return s.db.WithContext(ctx).Order("id").Find(&readers).Error
	})
	if err != nil {
		return nil, fmt.Errorf("query readers: %w", err)
	}
	return readers, nil
}

func (s *Store) InsertBook(ctx context.Context, book *models.Book) error {
	err := s.guard(func() error {
		return s.db.WithContext(ctx).Omit("Holder").Create(book).Error
	})
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

// InsertBooks inserts all books in one transaction and fills in their ids.
func (s *Store) InsertBooks(ctx context.Context, books []models.Book) error {
	if len(books) == 0 {
		return nil
	}
	err := s.guard(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Omit("Holder").Create(&books).Error
		})
	})
	if err != nil {
		return fmt.Errorf("insert books: %w", err)
	}
	return nil
}

func (s *Store) InsertReader(ctx context.Context, reader *models.Reader) error {
	err := s.guard(func() error {
		return s.db.WithContext(ctx).Create(reader).Error
	})
	if err != nil {
		return fmt.Errorf("insert reader: %w", err)
	}
	return nil
}

// DeleteBooks removes the given books; all ids must exist.
func (s *Store) DeleteBooks(ctx context.Context, ids []uint) error {
	err := s.guard(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Delete(&models.Book{}, ids)
			if res.Error != nil {
				return res.Error
			}
			return expectRows(res, len(ids))
		})
	})
	if err != nil {
		return fmt.Errorf("delete books %v: %w", ids, err)
	}
	return nil
}

// SetHolder assigns holder (nil to clear) on every listed book.
// Lending only touches available books, returning only touches held ones.
func (s *Store) SetHolder(ctx context.Context, ids []uint, holder *uint) error {
	err := s.guard(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			q := tx.Model(&models.Book{}).Where("id IN ?", ids)
			var value interface{}
			if holder != nil {
				q = q.Where("reader_id IS NULL")
				value = *holder
			} else {
				q = q.Where("reader_id IS NOT NULL")
				value = gorm.Expr("NULL")
			}
			res := q.Update("reader_id", value)
			if res.Error != nil {
				return res.Error
			}
			return expectRows(res, len(ids))
		})
	})
	if err != nil {
		return fmt.Errorf("set holder of books %v: %w", ids, err)
	}
	return nil
}

// FindReader returns the first reader matching the predicate, or nil.
func (s *Store) FindReader(ctx context.Context, query interface{}, args ...interface{}) (*models.Reader, error) {
	var readers []models.Reader
	err := s.guard(func() error {
		return s.db.WithContext(ctx).Where(query, args...).Order("id").Limit(1).Find(&readers).Error
	})
	if err != nil {
		return nil, fmt.Errorf("find reader: %w", err)
	}
	if len(readers) == 0 {
		return nil, nil
	}
	return &readers[0], nil
}

// ReaderByEmail matches email exactly and case-sensitively.
func (s *Store) ReaderByEmail(ctx context.Context, email string) (*models.Reader, error) {
	return s.FindReader(ctx, "email = ?", email)
}

func expectRows(res *gorm.DB, want int) error {
	if res.RowsAffected != int64(want) {
		return fmt.Errorf("%w: got %d, want %d", ErrRowCount, res.RowsAffected, want)
	}
	return nil
}

// guard runs fn through the circuit breaker. Constraint violations and callers
// giving up on their own context are not counted as store failures.
func (s *Store) guard(fn func() error) error {
	if s.breaker == nil {
		return translate(fn())
	}
	var rejected error
	err := s.breaker.Execute(func() error {
		err := fn()
		if callerError(err) {
			rejected = err
			return nil
		}
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrUnavailable
	}
	if rejected != nil {
		return translate(rejected)
	}
	return translate(err)
}

func callerError(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, ErrRowCount) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

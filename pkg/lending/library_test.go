package lending

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lending/pkg/database"
	"lending/pkg/models"
	"lending/pkg/store"
)

// flakyStore fails mutating calls on demand.
type flakyStore struct {
	Store
	fail bool
}

var errStoreDown = errors.New("store down")

func (f *flakyStore) InsertBook(ctx context.Context, b *models.Book) error {
	if f.fail {
		return errStoreDown
	}
	return f.Store.InsertBook(ctx, b)
}

func (f *flakyStore) InsertBooks(ctx context.Context, b []models.Book) error {
	if f.fail {
		return errStoreDown
	}
	return f.Store.InsertBooks(ctx, b)
}

func (f *flakyStore) DeleteBooks(ctx context.Context, ids []uint) error {
	if f.fail {
		return errStoreDown
	}
	return f.Store.DeleteBooks(ctx, ids)
}

func (f *flakyStore) SetHolder(ctx context.Context, ids []uint, holder *uint) error {
	if f.fail {
		return errStoreDown
	}
	return f.Store.SetHolder(ctx, ids, holder)
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	s := store.New(db, nil)
	require.NoError(t, s.CreateSchema(context.Background()))
	return s
}

func setupTestLibrary(t *testing.T) (*Library, *flakyStore) {
	t.Helper()
	fs := &flakyStore{Store: setupTestStore(t)}
	lib, err := New(context.Background(), fs, zap.NewNop())
	require.NoError(t, err)
	return lib, fs
}

func addReader(t *testing.T, lib *Library, email string) uint {
	t.Helper()
	reader := models.Reader{Name: "Test", Surname: "Reader", Email: email, PasswordHash: "hash", BirthYear: 1990}
	res, err := lib.AddReader(context.Background(), &reader)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Message)
	return reader.ID
}

func addBooks(t *testing.T, lib *Library, titles ...string) []uint {
	t.Helper()
	books := make([]models.Book, len(titles))
	for i, title := range titles {
		books[i] = models.NewBook(title, "Author", 2000+i)
	}
	res, err := lib.AddBooks(context.Background(), books)
	require.NoError(t, err)
	require.True(t, res.OK())
	ids := make([]uint, len(books))
	for i, b := range books {
		ids[i] = b.ID
	}
	return ids
}

func bookIDs(views []models.BookView) []uint {
	ids := make([]uint, len(views))
	for i, v := range views {
		ids[i] = v.ID
	}
	return ids
}

func holderOf(t *testing.T, lib *Library, id uint) *uint {
	t.Helper()
	b, ok := lib.Book(id)
	require.True(t, ok)
	return b.ReaderID
}

func TestEmptyStoreGivesEmptyIndex(t *testing.T) {
	lib, _ := setupTestLibrary(t)

	assert.Empty(t, lib.AllBooks())
	assert.Empty(t, lib.AvailableBooks())
	assert.Zero(t, lib.BookCount())
	assert.Zero(t, lib.ReaderCount())
}

func TestAddBookRoundTrip(t *testing.T) {
	lib, _ := setupTestLibrary(t)

	book := models.NewBook("Dune", "Herbert", 1965)
	res, err := lib.AddBook(context.Background(), &book)
	require.NoError(t, err)
	assert.Equal(t, OK, res.Status)
	assert.NotZero(t, book.ID)

	all := lib.AllBooks()
	require.Len(t, all, 1)
	assert.Equal(t, models.BookView{ID: book.ID, Title: "Dune", Author: "Herbert", Year: 1965}, all[0])
}

func TestIndexSurvivesReload(t *testing.T) {
	s := setupTestStore(t)
	lib, err := New(context.Background(), s, zap.NewNop())
	require.NoError(t, err)

	reader := addReader(t, lib, "anna@example.com")
	ids := addBooks(t, lib, "Dune", "1984", "Solaris")
	res, err := lib.LendBooks(context.Background(), reader, ids[1:2])
	require.NoError(t, err)
	require.True(t, res.OK())

	reloaded, err := New(context.Background(), s, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, lib.AllBooks(), reloaded.AllBooks())
	assert.Equal(t, lib.AvailableBooks(), reloaded.AvailableBooks())
	held, err := reloaded.ReaderBooks(reader)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, ids[1], held[0].ID)
}

func TestListingsAreSortedByID(t *testing.T) {
	lib, _ := setupTestLibrary(t)
	reader := addReader(t, lib, "anna@example.com")
	ids := addBooks(t, lib, "a", "b", "c", "d", "e")

	_, err := lib.LendBooks(context.Background(), reader, []uint{ids[3], ids[1]})
	require.NoError(t, err)

	assert.Equal(t, ids, bookIDs(lib.AllBooks()))
	assert.Equal(t, []uint{ids[0], ids[2], ids[4]}, bookIDs(lib.AvailableBooks()))

	held, err := lib.ReaderBooks(reader)
	require.NoError(t, err)
	require.Len(t, held, 2)
	assert.Equal(t, ids[1], held[0].ID)
	assert.Equal(t, ids[3], held[1].ID)
}

func TestReaderBooksUnknownReader(t *testing.T) {
	lib, _ := setupTestLibrary(t)

	_, err := lib.ReaderBooks(42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLendRejectsUnavailableBookAndLeavesIndexUnchanged(t *testing.T) {
	lib, _ := setupTestLibrary(t)
	ctx := context.Background()
	other := addReader(t, lib, "other@example.com")
	reader := addReader(t, lib, "anna@example.com")
	ids := addBooks(t, lib, "Dune", "1984")

	res, err := lib.LendBooks(ctx, other, ids[1:])
	require.NoError(t, err)
	require.True(t, res.OK())

	res, err = lib.LendBooks(ctx, reader, ids)
	require.NoError(t, err)
	assert.Equal(t, Error, res.Status)
	assert.ErrorIs(t, res.Err, ErrConflict)
	assert.Equal(t, fmt.Sprintf("book %d is not available", ids[1]), res.Message)

	assert.Nil(t, holderOf(t, lib, ids[0]))
	assert.Equal(t, other, *holderOf(t, lib, ids[1]))
}

func TestLendValidation(t *testing.T) {
	lib, _ := setupTestLibrary(t)
	ctx := context.Background()
	reader := addReader(t, lib, "anna@example.com")
	ids := addBooks(t, lib, "Dune")

	res, err := lib.LendBooks(ctx, reader+100, ids)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrNotFound)
	assert.Contains(t, res.Message, "not registered")

	res, err = lib.LendBooks(ctx, reader, []uint{ids[0], ids[0] + 100})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrNotFound)
	assert.Equal(t, fmt.Sprintf("book %d is not in the library", ids[0]+100), res.Message)
	assert.Nil(t, holderOf(t, lib, ids[0]))

	res, err = lib.LendBooks(ctx, reader, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrEmptyBatch)
}

func TestLendDuplicateIDsAppliesOnce(t *testing.T) {
	lib, _ := setupTestLibrary(t)
	reader := addReader(t, lib, "anna@example.com")
	ids := addBooks(t, lib, "Dune")

	res, err := lib.LendBooks(context.Background(), reader, []uint{ids[0], ids[0], ids[0]})
	require.NoError(t, err)
	require.True(t, res.OK(), res.Message)

	held, err := lib.ReaderBooks(reader)
	require.NoError(t, err)
	assert.Len(t, held, 1)
}

func TestReturnBooks(t *testing.T) {
	lib, _ := setupTestLibrary(t)
	ctx := context.Background()
	reader := addReader(t, lib, "anna@example.com")
	other := addReader(t, lib, "other@example.com")
	ids := addBooks(t, lib, "Dune", "1984", "Solaris")

	_, err := lib.LendBooks(ctx, reader, ids[:2])
	require.NoError(t, err)
	_, err = lib.LendBooks(ctx, other, ids[2:])
	require.NoError(t, err)

	res, err := lib.ReturnBooks(ctx, reader, []uint{ids[0], ids[2]})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrConflict)
	assert.Equal(t, fmt.Sprintf("book %d is held by another reader", ids[2]), res.Message)
	assert.Equal(t, reader, *holderOf(t, lib, ids[0]))

	res, err = lib.ReturnBooks(ctx, reader, ids[:2])
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Nil(t, holderOf(t, lib, ids[0]))
	assert.Nil(t, holderOf(t, lib, ids[1]))

	res, err = lib.ReturnBooks(ctx, reader, ids[:1])
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrConflict)
	assert.Equal(t, fmt.Sprintf("book %d is already in the library", ids[0]), res.Message)
}

func TestHolderAlternates(t *testing.T) {
	lib, _ := setupTestLibrary(t)
	ctx := context.Background()
	a := addReader(t, lib, "a@example.com")
	b := addReader(t, lib, "b@example.com")
	ids := addBooks(t, lib, "Dune")

	steps := []struct {
		op     string
		reader uint
		ok     bool
	}{
		{"return", a, false},
		{"lend", a, true},
		{"lend", b, false},
		{"lend", a, false},
		{"return", b, false},
		{"return", a, true},
		{"return", a, false},
		{"lend", b, true},
		{"return", b, true},
	}

	for i, step := range steps {
		var res Result
		var err error
		if step.op == "lend" {
			res, err = lib.LendBooks(ctx, step.reader, ids)
		} else {
			res, err = lib.ReturnBooks(ctx, step.reader, ids)
		}
		require.NoError(t, err)
		assert.Equal(t, step.ok, res.OK(), "step %d: %s by %d: %s", i, step.op, step.reader, res.Message)

		heldByA, err := lib.ReaderBooks(a)
		require.NoError(t, err)
		heldByB, err := lib.ReaderBooks(b)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(heldByA)+len(heldByB), 1)
		if len(heldByA)+len(heldByB) == 1 {
			assert.Empty(t, lib.AvailableBooks())
		} else {
			assert.Len(t, lib.AvailableBooks(), 1)
		}
	}
}

func TestDeleteBooksIsAllOrNothing(t *testing.T) {
	lib, _ := setupTestLibrary(t)
	ctx := context.Background()
	ids := addBooks(t, lib, "Dune")
	missing := ids[0] + 1

	res, err := lib.DeleteBooks(ctx, []uint{ids[0], missing})
	require.NoError(t, err)
	assert.Equal(t, Error, res.Status)
	assert.ErrorIs(t, res.Err, ErrNotFound)
	_, ok := lib.Book(ids[0])
	assert.True(t, ok)

	res, err = lib.DeleteBooks(ctx, []uint{ids[0], ids[0]})
	require.NoError(t, err)
	require.True(t, res.OK(), res.Message)
	assert.Empty(t, lib.AllBooks())

	res, err = lib.DeleteBooks(ctx, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrEmptyBatch)
}

func TestDeleteBook(t *testing.T) {
	lib, _ := setupTestLibrary(t)
	ctx := context.Background()
	ids := addBooks(t, lib, "Dune")

	res, err := lib.DeleteBook(ctx, ids[0]+5)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrNotFound)

	res, err = lib.DeleteBook(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Zero(t, lib.BookCount())
}

func TestStoreFailureLeavesIndexUnchanged(t *testing.T) {
	lib, fs := setupTestLibrary(t)
	ctx := context.Background()
	reader := addReader(t, lib, "anna@example.com")
	ids := addBooks(t, lib, "Dune", "1984")
	_, err := lib.LendBooks(ctx, reader, ids[1:])
	require.NoError(t, err)

	before := lib.AllBooks()
	fs.fail = true

	var storeErr *StoreError
	_, err = lib.LendBooks(ctx, reader, ids[:1])
	require.ErrorAs(t, err, &storeErr)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Nil(t, holderOf(t, lib, ids[0]))

	_, err = lib.ReturnBooks(ctx, reader, ids[1:])
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, reader, *holderOf(t, lib, ids[1]))

	_, err = lib.DeleteBooks(ctx, ids)
	require.ErrorAs(t, err, &storeErr)

	_, err = lib.AddBooks(ctx, []models.Book{models.NewBook("x", "y", 1)})
	require.ErrorAs(t, err, &storeErr)

	book := models.NewBook("z", "w", 2)
	_, err = lib.AddBook(ctx, &book)
	require.ErrorAs(t, err, &storeErr)
	assert.Zero(t, book.ID)

	assert.Equal(t, before, lib.AllBooks())
}

func TestAddReaderDuplicateEmailIsConflict(t *testing.T) {
	lib, _ := setupTestLibrary(t)
	ctx := context.Background()
	addReader(t, lib, "anna@example.com")

	dup := models.Reader{Name: "Anna", Surname: "Other", Email: "anna@example.com", PasswordHash: "h"}
	res, err := lib.AddReader(ctx, &dup)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, ErrConflict)
	assert.Equal(t, 1, lib.ReaderCount())
}

func TestFindReaderByEmailAndLoadUser(t *testing.T) {
	lib, _ := setupTestLibrary(t)
	ctx := context.Background()
	id := addReader(t, lib, "anna@example.com")

	found, err := lib.FindReaderByEmail(ctx, "anna@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, id, found.ID)

	found, err = lib.FindReaderByEmail(ctx, "Anna@example.com")
	require.NoError(t, err)
	assert.Nil(t, found)

	principal, ok := lib.LoadUser(id)
	require.True(t, ok)
	assert.Equal(t, "anna@example.com", principal.Email)

	_, ok = lib.LoadUser(id + 1)
	assert.False(t, ok)
}

func TestKnownBooks(t *testing.T) {
	lib, _ := setupTestLibrary(t)
	ids := addBooks(t, lib, "a", "b")

	assert.Equal(t, []uint{ids[1], ids[0]}, lib.KnownBooks([]uint{ids[1], 999, ids[0]}))
	assert.Empty(t, lib.KnownBooks(nil))
}

func TestBookReturnsCopy(t *testing.T) {
	lib, _ := setupTestLibrary(t)
	reader := addReader(t, lib, "anna@example.com")
	ids := addBooks(t, lib, "Dune")
	_, err := lib.LendBooks(context.Background(), reader, ids)
	require.NoError(t, err)

	b, _ := lib.Book(ids[0])
	*b.ReaderID = reader + 1
	assert.Equal(t, reader, *holderOf(t, lib, ids[0]))
}

func TestConcurrentLendingNeverDoubleLends(t *testing.T) {
	lib, _ := setupTestLibrary(t)
	ctx := context.Background()
	ids := addBooks(t, lib, "Dune", "1984")

	const readers = 8
	readerIDs := make([]uint, readers)
	for i := range readerIDs {
		readerIDs[i] = addReader(t, lib, fmt.Sprintf("r%d@example.com", i))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, r := range readerIDs {
		wg.Add(1)
		go func(reader uint) {
			defer wg.Done()
			res, err := lib.LendBooks(ctx, reader, ids)
			assert.NoError(t, err)
			if res.OK() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(r)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Empty(t, lib.AvailableBooks())
	holder := holderOf(t, lib, ids[0])
	require.NotNil(t, holder)
	assert.Equal(t, *holder, *holderOf(t, lib, ids[1]))
}

func TestStatusJSON(t *testing.T) {
	text, err := Error.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ERROR", string(text))
	assert.Equal(t, "OK", OK.String())
}

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
	"gorm.io/gorm"

	"lending/pkg/config"
	"lending/pkg/database"
	"lending/pkg/lending"
	"lending/pkg/logging"
	"lending/pkg/models"
	"lending/pkg/seed"
	"lending/pkg/store"
)

var (
	db       *gorm.DB
	lib      *lending.Library
	logger   *zap.Logger
	logLevel string
)

func main() {
	err := newRootCmd().Execute()
	if db != nil {
		database.Close(db)
	}
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "libctl",
		Short:        "Operate the library catalog directly against its database",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return openLibrary(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	root.AddCommand(newImportCmd(), newBooksCmd(), newReaderCmd(), newLendCmd(), newReturnCmd())
	return root
}

func openLibrary(ctx context.Context) error {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return err
	}
	logger, err = logging.New(logLevel, true)
	if err != nil {
		return err
	}
	db, err = database.Open(cfg, logger)
	if err != nil {
		return err
	}

	st := store.New(db, nil)
	if err := st.CreateSchema(ctx); err != nil {
		return err
	}
	lib, err = lending.New(ctx, st, logger)
	return err
}

func newImportCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Add every book of a title$!$author$!$year file in one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			books, err := seed.ReadBooksFile(args[0], strict, logger)
			if err != nil {
				return err
			}
			if len(books) == 0 {
				return fmt.Errorf("%s: no books to import", args[0])
			}
			res, err := lib.AddBooks(cmd.Context(), books)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", true, "abort on the first malformed line")
	return cmd
}

func newBooksCmd() *cobra.Command {
	books := &cobra.Command{Use: "books", Short: "Inspect the catalog"}

	var available bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List books ordered by id",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			views := lib.AllBooks()
			if available {
				views = lib.AvailableBooks()
			}
			printBooks(cmd, views)
		},
	}
	list.Flags().BoolVar(&available, "available", false, "only books without a holder")

	books.AddCommand(list)
	return books
}

func newReaderCmd() *cobra.Command {
	reader := &cobra.Command{Use: "reader", Short: "Manage readers"}

	var in models.RegistrationInput
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a reader; the password is read from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			in.Password = password

			r, err := in.Reader()
			if err != nil {
				return err
			}
			existing, err := lib.FindReaderByEmail(cmd.Context(), r.Email)
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("reader with email %s is already registered", r.Email)
			}
			res, err := lib.AddReader(cmd.Context(), &r)
			if err != nil {
				return err
			}
			if !res.OK() {
				return res.Err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (id %d)\n", res.Message, r.ID)
			return nil
		},
	}
	add.Flags().StringVar(&in.Name, "name", "", "first name")
	add.Flags().StringVar(&in.Surname, "surname", "", "surname")
	add.Flags().StringVar(&in.Email, "email", "", "email, unique across readers")
	add.Flags().StringVar(&in.BirthYear, "years", "", "birth year")

	books := &cobra.Command{
		Use:   "books <reader-id>",
		Short: "List the books a reader holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			held, err := lib.ReaderBooks(id)
			if err != nil {
				return err
			}
			views := make([]models.BookView, len(held))
			for i, b := range held {
				views[i] = b.View()
			}
			printBooks(cmd, views)
			return nil
		},
	}

	reader.AddCommand(add, books)
	return reader
}

func newLendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lend <reader-id> <book-id>...",
		Short: "Lend books to a reader, all or none",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return batch(cmd, args, lib.LendBooks)
		},
	}
}

func newReturnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "return <reader-id> <book-id>...",
		Short: "Take books back from a reader, all or none",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return batch(cmd, args, lib.ReturnBooks)
		},
	}
}

type batchOp func(ctx context.Context, readerID uint, ids []uint) (lending.Result, error)

func batch(cmd *cobra.Command, args []string, op batchOp) error {
	readerID, err := parseID(args[0])
	if err != nil {
		return err
	}
	ids := make([]uint, 0, len(args)-1)
	for _, arg := range args[1:] {
		id, err := parseID(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	res, err := op(cmd.Context(), readerID, ids)
	if err != nil {
		return err
	}
	if !res.OK() {
		return res.Err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	return nil
}

func printBooks(cmd *cobra.Command, views []models.BookView) {
	if len(views) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no books")
		return
	}
	for _, v := range views {
		fmt.Fprintf(cmd.OutOrStdout(), "%4d  %-40s  %-25s  %d\n", v.ID, v.Title, v.Author, v.Year)
	}
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(id), nil
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(os.Stderr)
	return strings.TrimSpace(string(bytePassword)), nil
}

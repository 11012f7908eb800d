package main

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lending/pkg/lending"
	"lending/pkg/models"
	"lending/pkg/session"
	"lending/pkg/store"
)

type credentials struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"psw" json:"psw"`
}

type selection struct {
	IDs []uint `json:"ids"`
}

func listBooks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": lending.OK,
		"books":  lib.AllBooks(),
	})
}

func listAvailableBooks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": lending.OK,
		"books":  lib.AvailableBooks(),
	})
}

func myBooks(c *gin.Context) {
	reader, _ := session.Current(c)
	views, err := heldBy(reader.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": lending.Error, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": lending.OK,
		"books":  views,
	})
}

func addBook(c *gin.Context) {
	var in models.BookInput
	if err := c.ShouldBind(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": lending.Error, "message": err.Error()})
		return
	}
	book, err := in.Book()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": lending.Error, "message": err.Error()})
		return
	}

	res, err := lib.AddBook(c.Request.Context(), &book)
	if err != nil {
		storeFailure(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status":  res.Status,
		"message": res.Message,
		"books":   []models.BookView{book.View()},
	})
}

func lendBooks(c *gin.Context) {
	reader, _ := session.Current(c)
	ids, ok := selectedBooks(c)
	if !ok {
		return
	}
	res, err := lib.LendBooks(c.Request.Context(), reader.ID, ids)
	respond(c, res, err, lib.AvailableBooks)
}

func returnBooks(c *gin.Context) {
	reader, _ := session.Current(c)
	ids, ok := selectedBooks(c)
	if !ok {
		return
	}
	res, err := lib.ReturnBooks(c.Request.Context(), reader.ID, ids)
	respond(c, res, err, func() []models.BookView {
		views, _ := heldBy(reader.ID)
		return views
	})
}

func deleteBooks(c *gin.Context) {
	ids, ok := selectedBooks(c)
	if !ok {
		return
	}
	res, err := lib.DeleteBooks(c.Request.Context(), ids)
	respond(c, res, err, lib.AllBooks)
}

func register(c *gin.Context) {
	var in models.RegistrationInput
	if err := c.ShouldBind(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": lending.Error, "message": err.Error()})
		return
	}
	reader, err := in.Reader()
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"status": lending.Error, "message": verr.Error()})
			return
		}
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": lending.Error, "message": "registration failed"})
		return
	}

	existing, err := lib.FindReaderByEmail(c.Request.Context(), reader.Email)
	if err != nil {
		storeFailure(c, err)
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{
			"status":  lending.Error,
			"message": "reader with email " + reader.Email + " is already registered",
		})
		return
	}

	res, err := lib.AddReader(c.Request.Context(), &reader)
	if err != nil {
		storeFailure(c, err)
		return
	}
	if !res.OK() {
		respond(c, res, nil, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"status":  res.Status,
		"message": res.Message,
		"reader":  reader.Principal(),
	})
}

func login(c *gin.Context) {
	var in credentials
	if err := c.ShouldBind(&in); err != nil || in.Email == "" || in.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": lending.Error, "message": "email and psw are required"})
		return
	}

	reader, err := lib.FindReaderByEmail(c.Request.Context(), strings.TrimSpace(in.Email))
	if err != nil {
		storeFailure(c, err)
		return
	}
	if reader == nil || !reader.CheckPassword(in.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"status": lending.Error, "message": "invalid email or password"})
		return
	}

	token, err := sessions.Login(c, reader.ID)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": lending.Error, "message": "login failed"})
		return
	}
	logger.Info("Reader logged in", zap.Uint("reader_id", reader.ID))
	c.JSON(http.StatusOK, gin.H{
		"status": lending.OK,
		"reader": reader.Principal(),
		"token":  token,
	})
}

func logout(c *gin.Context) {
	sessions.Logout(c)
	c.JSON(http.StatusOK, gin.H{"status": lending.OK, "message": "logged out"})
}

func healthCheck(c *gin.Context) {
	if err := catalog.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database ping failed",
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"details": "Library service is active",
	})
}

// selectedBooks collects the chosen book ids, either from a JSON body or from
// numeric form keys, and keeps only ids the catalog knows.
func selectedBooks(c *gin.Context) ([]uint, bool) {
	var ids []uint
	if c.ContentType() == gin.MIMEJSON {
		var sel selection
		if err := c.ShouldBindJSON(&sel); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": lending.Error, "message": err.Error()})
			return nil, false
		}
		ids = sel.IDs
	} else {
		if err := c.Request.ParseForm(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": lending.Error, "message": err.Error()})
			return nil, false
		}
		for key := range c.Request.PostForm {
			id, err := strconv.ParseUint(key, 10, 64)
			if err != nil {
				continue
			}
			ids = append(ids, uint(id))
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return lib.KnownBooks(ids), true
}

func heldBy(readerID uint) ([]models.BookView, error) {
	books, err := lib.ReaderBooks(readerID)
	if err != nil {
		return nil, err
	}
	views := make([]models.BookView, len(books))
	for i, b := range books {
		views[i] = b.View()
	}
	return views, nil
}

// respond renders an engine outcome followed by the listing the caller goes back to.
// Store failures never leak details to the client.
func respond(c *gin.Context, res lending.Result, err error, listing func() []models.BookView) {
	if err != nil {
		storeFailure(c, err)
		return
	}
	status := http.StatusOK
	switch {
	case res.OK():
	case errors.Is(res.Err, lending.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(res.Err, lending.ErrConflict):
		status = http.StatusConflict
	default:
		status = http.StatusBadRequest
	}
	body := gin.H{"status": res.Status, "message": res.Message}
	if listing != nil {
		body["books"] = listing()
	}
	c.JSON(status, body)
}

func storeFailure(c *gin.Context, err error) {
	c.Error(err)
	status := http.StatusInternalServerError
	if errors.Is(err, store.ErrUnavailable) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": lending.Error, "message": http.StatusText(status)})
}

// Package mysql implements a persistence adapter backed by MySQL. The
// channel tree is flattened into path rows, permission rules keep their
// list position in an index column.
package mysql

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/slbsh/crussh/server/store"
	t "github.com/slbsh/crussh/server/store/types"
)

// adapter holds the MySQL connection.
type adapter struct {
	db *sqlx.DB
}

const (
	defaultDSN = "root:@tcp(localhost:3306)/crussh"

	adapterName = "mysql"
)

type configType struct {
	DSN string `json:"dsn,omitempty"`
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users(
		name   VARCHAR(64) NOT NULL,
		digest CHAR(64)    NOT NULL,
		roles  TEXT,
		PRIMARY KEY(name))`,
	`CREATE TABLE IF NOT EXISTS channels(
		path VARCHAR(255) NOT NULL,
		PRIMARY KEY(path))`,
	`CREATE TABLE IF NOT EXISTS perms(
		path    VARCHAR(255) NOT NULL,
		idx     INT          NOT NULL,
		class   VARCHAR(8)   NOT NULL,
		subject VARCHAR(64)  NOT NULL DEFAULT '',
		level   TINYINT      NOT NULL,
		PRIMARY KEY(path, idx))`,
}

// Open initializes the MySQL connection and creates missing tables.
func (a *adapter) Open(jsonconf string) error {
	if a.db != nil {
		return errors.New("adapter mysql is already connected")
	}

	dsn := defaultDSN
	if jsonconf != "" {
		var config configType
		if err := json.Unmarshal([]byte(jsonconf), &config); err != nil {
			return errors.New("adapter mysql failed to parse config: " + err.Error())
		}
		if config.DSN != "" {
			dsn = config.DSN
		}
	}

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return err
	}

	for _, stmt := range schema {
		if _, err = db.Exec(stmt); err != nil {
			db.Close()
			return err
		}
	}

	a.db = db
	return nil
}

// Close closes the underlying database connection.
func (a *adapter) Close() error {
	var err error
	if a.db != nil {
		err = a.db.Close()
		a.db = nil
	}
	return err
}

// IsOpen returns true if there is an active connection to the database.
func (a *adapter) IsOpen() bool {
	return a.db != nil
}

// GetName returns the name of the adapter.
func (a *adapter) GetName() string {
	return adapterName
}

type userRow struct {
	Name   string `db:"name"`
	Digest string `db:"digest"`
	Roles  string `db:"roles"`
}

type permRow struct {
	Path    string `db:"path"`
	Idx     int    `db:"idx"`
	Class   string `db:"class"`
	Subject string `db:"subject"`
	Level   int    `db:"level"`
}

// Load reassembles the server state from the flattened rows.
func (a *adapter) Load() (*t.ServerState, error) {
	var paths []string
	if err := a.db.Select(&paths, "SELECT path FROM channels"); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, t.ErrNotInitialized
	}

	state := &t.ServerState{
		Root:  &t.ChannelRec{},
		Users: make(map[string]t.UserRec),
	}

	// Parents sort before children, so each node's parent is already in
	// the tree by the time the node is inserted.
	sort.Strings(paths)
	for _, path := range paths {
		if path == "/" {
			continue
		}
		rec := state.Root
		for _, seg := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
			if rec.Children == nil {
				rec.Children = make(map[string]*t.ChannelRec)
			}
			child := rec.Children[seg]
			if child == nil {
				child = &t.ChannelRec{}
				rec.Children[seg] = child
			}
			rec = child
		}
	}

	var prows []permRow
	if err := a.db.Select(&prows, "SELECT path,idx,class,subject,level FROM perms ORDER BY path,idx"); err != nil {
		return nil, err
	}
	for _, pr := range prows {
		rec := findRec(state.Root, pr.Path)
		if rec == nil {
			return nil, t.ErrInternal
		}
		class, err := t.ParseRestrictionClass(pr.Class)
		if err != nil {
			return nil, err
		}
		rec.Perms = append(rec.Perms, t.PermEntry{
			Class:   class,
			Subject: pr.Subject,
			Level:   t.PermLevel(pr.Level),
		})
	}

	var urows []userRow
	if err := a.db.Select(&urows, "SELECT name,digest,roles FROM users"); err != nil {
		return nil, err
	}
	for _, ur := range urows {
		rec := t.UserRec{Digest: ur.Digest}
		if ur.Roles != "" {
			if err := json.Unmarshal([]byte(ur.Roles), &rec.Roles); err != nil {
				return nil, err
			}
		}
		state.Users[ur.Name] = rec
	}

	return state, nil
}

// Save rewrites all rows in one transaction.
func (a *adapter) Save(state *t.ServerState) error {
	tx, err := a.db.Beginx()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, table := range []string{"users", "channels", "perms"} {
		if _, err = tx.Exec("DELETE FROM " + table); err != nil {
			return err
		}
	}

	var insert func(path string, rec *t.ChannelRec) error
	insert = func(path string, rec *t.ChannelRec) error {
		if _, err = tx.Exec("INSERT INTO channels(path) VALUES(?)", path); err != nil {
			return err
		}
		for i, pe := range rec.Perms {
			if _, err = tx.Exec("INSERT INTO perms(path,idx,class,subject,level) VALUES(?,?,?,?,?)",
				path, i, pe.Class.String(), pe.Subject, int(pe.Level)); err != nil {
				return err
			}
		}
		for name, child := range rec.Children {
			childPath := path + "/" + name
			if path == "/" {
				childPath = "/" + name
			}
			if err = insert(childPath, child); err != nil {
				return err
			}
		}
		return nil
	}
	if err = insert("/", state.Root); err != nil {
		return err
	}

	for name, rec := range state.Users {
		var roles []byte
		if roles, err = json.Marshal(rec.Roles); err != nil {
			return err
		}
		if _, err = tx.Exec("INSERT INTO users(name,digest,roles) VALUES(?,?,?)",
			name, rec.Digest, string(roles)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// findRec walks the record tree by absolute path.
func findRec(root *t.ChannelRec, path string) *t.ChannelRec {
	if path == "/" {
		return root
	}
	rec := root
	for _, seg := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		rec = rec.Children[seg]
		if rec == nil {
			return nil
		}
	}
	return rec
}

func init() {
	store.RegisterAdapter(&adapter{})
}

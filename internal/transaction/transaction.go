// Package transaction provides the installer's lock and a small journal of
// filesystem changes that can be rolled back when a step fails.
package transaction

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// State represents the current state of a transaction.
type State string

const (
	StatePending    State = "pending"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
)

// Operation names what the transaction is doing.
type Operation string

const (
	OperationInstall   Operation = "install"
	OperationUninstall Operation = "uninstall"
)

// backupSuffix is appended to a replaced file while the transaction is open.
const backupSuffix = ".vmagent-backup"

type changeKind int

const (
	changeCreated changeKind = iota
	changeReplaced
)

type change struct {
	kind   changeKind
	path   string
	backup string
}

// Txn journals filesystem changes made during an install.
type Txn struct {
	ID        string
	Operation Operation
	Timestamp time.Time
	State     State

	changes []change
}

// New creates a pending transaction.
func New(op Operation) *Txn {
	return &Txn{
		ID:        uuid.New().String(),
		Operation: op,
		Timestamp: time.Now().UTC(),
		State:     StatePending,
	}
}

// Created records a file or directory created by this transaction. Rollback
// removes it.
func (t *Txn) Created(path string) {
	t.changes = append(t.changes, change{kind: changeCreated, path: path})
}

// Replace moves an existing file at path aside so a new one can take its
// place. Rollback moves it back; Commit deletes it. Replace is a no-op when
// nothing exists at path.
func (t *Txn) Replace(path string) error {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			t.Created(path)
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}

	backup := path + backupSuffix
	os.Remove(backup)
	if err := os.Rename(path, backup); err != nil {
		return fmt.Errorf("back up %s: %w", path, err)
	}

	t.changes = append(t.changes, change{kind: changeReplaced, path: path, backup: backup})
	return nil
}

// Rollback undoes recorded changes in reverse order.
func (t *Txn) Rollback() error {
	if t.State != StatePending {
		return nil
	}

	var errs []error
	for i := len(t.changes) - 1; i >= 0; i-- {
		c := t.changes[i]
		switch c.kind {
		case changeCreated:
			if err := os.RemoveAll(c.path); err != nil {
				errs = append(errs, fmt.Errorf("remove %s: %w", c.path, err))
			}
		case changeReplaced:
			os.Remove(c.path)
			if err := os.Rename(c.backup, c.path); err != nil {
				errs = append(errs, fmt.Errorf("restore %s: %w", c.path, err))
			}
		}
	}

	t.State = StateRolledBack
	return errors.Join(errs...)
}

// Commit keeps the changes and deletes backups.
func (t *Txn) Commit() error {
	if t.State != StatePending {
		return fmt.Errorf("transaction %s is %s", t.ID, t.State)
	}

	var errs []error
	for _, c := range t.changes {
		if c.kind != changeReplaced {
			continue
		}
		if err := os.Remove(c.backup); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove backup %s: %w", c.backup, err))
		}
	}

	t.State = StateCommitted
	return errors.Join(errs...)
}

// Replaced reports whether the transaction replaced an existing file.
func (t *Txn) Replaced() bool {
	for _, c := range t.changes {
		if c.kind == changeReplaced {
			return true
		}
	}
	return false
}

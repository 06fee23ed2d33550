package history

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Journal records what a session acquires and releases. Implementations
// never fail the session; problems are only logged.
type Journal interface {
	Begin(rootDir string) string
	Root(device string)
	Acquired(kind, name string)
	Released(kind, name string, err error)
	End(err error)
}

// Nop is a Journal that records nothing
type Nop struct{}

func (Nop) Begin(string) string { return "" }
func (Nop) Root(string) {}
func (Nop) Acquired(string, string) {}
func (Nop) Released(string, string, error) {}
func (Nop) End(error) {}

// Recorder writes one session to a DB
type Recorder struct {
	db  *DB
	log *zap.SugaredLogger
	id  string
}

// NewRecorder creates a Recorder writing to db
func NewRecorder(db *DB, log *zap.SugaredLogger) *Recorder {
	return &Recorder{db: db, log: log}
}

// Begin starts a new session record and returns its id
func (r *Recorder) Begin(rootDir string) string {
	r.id = uuid.New().String()
	if err := r.db.StartSession(r.id, rootDir); err != nil {
		r.log.Debugf("history: %v", err)
	}
	return r.id
}

// Root records the root device of the session
func (r *Recorder) Root(device string) {
	if err := r.db.SetRootDevice(r.id, device); err != nil {
		r.log.Debugf("history: failed to record root device: %v", err)
	}
}

// Acquired records a newly acquired resource
func (r *Recorder) Acquired(kind, name string) {
	if err := r.db.RecordAcquired(r.id, kind, name); err != nil {
		r.log.Debugf("history: %v", err)
	}
}

// Released records the outcome of releasing a resource
func (r *Recorder) Released(kind, name string, releaseErr error) {
	if err := r.db.RecordReleased(r.id, kind, name, releaseErr); err != nil {
		r.log.Debugf("history: failed to record release of %s %s: %v", kind, name, err)
	}
}

// End closes the session record
func (r *Recorder) End(sessionErr error) {
	if err := r.db.FinishSession(r.id, sessionErr); err != nil {
		r.log.Debugf("history: %v", err)
	}
}

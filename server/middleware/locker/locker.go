// Package locker provides an HTTP middleware which allows a camera server to
// be locked against changes, returning 423 (locked)
package locker

import (
	"go/types"
	"net/http"
	"strings"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"github.jpl.nasa.gov/bdube/camacq/generichttp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Inject adds a lock route to an HTTPer which is used to manipulate the locker
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker behaves like a sync.Mutex without the blocking.  While locked,
// requests which could change the camera are refused.
type Locker struct {
	locked int32

	// DoNotProtect is a list of path fragments not to apply the lock to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock".
// The live view and the stop route stay reachable so an operator can always
// halt a running sequence.
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock", "sequence/stop"}}
}

// Lock the locker
func (l *Locker) Lock() {
	atomic.StoreInt32(&l.locked, 1)
}

// Unlock the locker
func (l *Locker) Unlock() {
	atomic.StoreInt32(&l.locked, 0)
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	return atomic.LoadInt32(&l.locked) == 1
}

// Check is an HTTP middleware that returns http.StatusLocked if Locked() is
// true for any request that is not a GET, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() && r.Method != http.MethodGet {
			protected := true
			url := r.URL.Path
			for _, str := range l.DoNotProtect {
				if strings.Contains(url, str) {
					protected = false
				}
			}
			if protected {
				w.WriteHeader(http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet calls Lock or Unlock based on json:bool on the request body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}

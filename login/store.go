package login

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/freehandle/signon/protocol/authority"
	"github.com/freehandle/signon/signer"
	"github.com/freehandle/signon/util"
)

var ErrCorruptSessionFile = errors.New("corrupt session file")

// FileSessions keeps the users logged in by each agent and the cookies of
// each gateway in one file, so a later process sees the same session. The
// file is rewritten on every change.
type FileSessions struct {
	mu      sync.Mutex
	path    string
	users   map[string]*User
	cookies map[string]map[string]string // gateway -> name -> value
}

// OpenFileSessions reads path, or starts empty when it does not exist.
func OpenFileSessions(path string) (*FileSessions, error) {
	f := &FileSessions{
		path:    path,
		users:   make(map[string]*User),
		cookies: make(map[string]map[string]string),
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return f, nil
	}
	if err := f.parse(data); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FileSessions) Save(agent string, user *User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *user
	f.users[agent] = &clone
	return f.write()
}

func (f *FileSessions) Load(agent string) (*User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[agent]
	if !ok {
		return nil, false
	}
	clone := *user
	return &clone, true
}

func (f *FileSessions) Delete(agent string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, agent)
	return f.write()
}

// Jar returns a cookie jar for the gateway at endpoint holding the cookies
// saved for it. Cookies the gateway sets or expires are written back.
func (f *FileSessions) Jar(endpoint string) (http.CookieJar, error) {
	base, err := url.Parse(strings.TrimSuffix(endpoint, "/") + "/")
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	saved := make([]*http.Cookie, 0, len(f.cookies[base.String()]))
	for name, value := range f.cookies[base.String()] {
		saved = append(saved, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	f.mu.Unlock()
	jar.SetCookies(base, saved)
	return &fileJar{sessions: f, base: base, jar: jar}, nil
}

func (f *FileSessions) setCookies(gateway string, cookies []*http.Cookie) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(cookies) == 0 {
		delete(f.cookies, gateway)
	} else {
		values := make(map[string]string, len(cookies))
		for _, cookie := range cookies {
			values[cookie.Name] = cookie.Value
		}
		f.cookies[gateway] = values
	}
	if err := f.write(); err != nil {
		slog.Warn("could not save gateway cookies", "gateway", gateway, "error", err)
	}
}

func (f *FileSessions) serialize() []byte {
	data := make([]byte, 0)
	agents := sortedKeys(f.users)
	util.PutUint16(uint16(len(agents)), &data)
	for _, agent := range agents {
		user := f.users[agent]
		util.PutString(agent, &data)
		util.PutBool(user.IsLoggedIn, &data)
		util.PutString(user.Username, &data)
		util.PutString(user.AvatarURL, &data)
		util.PutString(string(user.LoginType), &data)
		util.PutString(string(user.KeyType), &data)
	}
	gateways := sortedKeys(f.cookies)
	util.PutUint16(uint16(len(gateways)), &data)
	for _, gateway := range gateways {
		names := sortedKeys(f.cookies[gateway])
		values := make([]string, len(names))
		for n, name := range names {
			values[n] = f.cookies[gateway][name]
		}
		util.PutString(gateway, &data)
		util.PutStringArray(names, &data)
		util.PutStringArray(values, &data)
	}
	return data
}

func (f *FileSessions) parse(data []byte) error {
	position := 0
	var count uint16
	count, position = util.ParseUint16(data, position)
	for n := 0; n < int(count) && position <= len(data); n++ {
		var agent, loginType, keyType string
		user := &User{}
		agent, position = util.ParseString(data, position)
		user.IsLoggedIn, position = util.ParseBool(data, position)
		user.Username, position = util.ParseString(data, position)
		user.AvatarURL, position = util.ParseString(data, position)
		loginType, position = util.ParseString(data, position)
		keyType, position = util.ParseString(data, position)
		user.LoginType, user.KeyType = signer.LoginType(loginType), authority.Level(keyType)
		f.users[agent] = user
	}
	count, position = util.ParseUint16(data, position)
	for n := 0; n < int(count) && position <= len(data); n++ {
		var gateway string
		var names, values []string
		gateway, position = util.ParseString(data, position)
		names, position = util.ParseStringArray(data, position)
		values, position = util.ParseStringArray(data, position)
		if len(names) != len(values) {
			return ErrCorruptSessionFile
		}
		cookies := make(map[string]string, len(names))
		for i, name := range names {
			cookies[name] = values[i]
		}
		f.cookies[gateway] = cookies
	}
	if position != len(data) {
		return ErrCorruptSessionFile
	}
	return nil
}

// write replaces the file atomically. Callers hold mu.
func (f *FileSessions) write() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, f.serialize(), 0600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type fileJar struct {
	sessions *FileSessions
	base     *url.URL
	jar      *cookiejar.Jar
}

func (j *fileJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)
	j.sessions.setCookies(j.base.String(), j.jar.Cookies(j.base))
}

func (j *fileJar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"clearpath/api/internal/authpw"
	"clearpath/api/internal/config"
	"clearpath/api/internal/content"
	"clearpath/api/internal/search"
	"clearpath/api/internal/session"
	"clearpath/api/internal/store"
)

// memBlob is an in-memory content.BlobStore for tests.
type memBlob struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlob() *memBlob {
	return &memBlob{data: map[string][]byte{}}
}

func (m *memBlob) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, content.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memBlob) Store(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memBlob) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memBlob) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

type passwordReset struct {
	userID string
	used   bool
}

// fakeData is an in-memory dataStore.
type fakeData struct {
	mu       sync.Mutex
	users    map[string]store.User
	resets   map[string]passwordReset
	messages []store.ContactMessage
	backups  []store.ContentBackup
	nextID   int64
}

func newFakeData() *fakeData {
	return &fakeData{
		users:  map[string]store.User{},
		resets: map[string]passwordReset{},
	}
}

func (f *fakeData) addUser(t *testing.T, id, email, password, role string) store.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := store.User{ID: id, Email: strings.ToLower(email), PasswordHash: string(hash), Role: role}
	f.mu.Lock()
	f.users[id] = user
	f.mu.Unlock()
	return user
}

func (f *fakeData) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == strings.ToLower(email) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeData) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeData) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user.Email = strings.ToLower(user.Email)
	f.users[user.ID] = user
	return nil
}

func (f *fakeData) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeData) CountUsers(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), nil
}

func (f *fakeData) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = passwordReset{userID: userID}
	return nil
}

func (f *fakeData) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reset, ok := f.resets[token]
	if !ok || reset.used {
		return "", sql.ErrNoRows
	}
	return reset.userID, nil
}

func (f *fakeData) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reset := f.resets[token]
	reset.used = true
	f.resets[token] = reset
	return nil
}

func (f *fakeData) InsertContactMessage(_ context.Context, message store.ContactMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeData) ListContactMessages(_ context.Context, status string) ([]store.ContactMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.ContactMessage
	for _, message := range f.messages {
		if status == "" || message.Status == status {
			out = append(out, message)
		}
	}
	return out, nil
}

func (f *fakeData) UpdateContactMessageStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, message := range f.messages {
		if message.ID == id {
			f.messages[i].Status = status
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeData) InsertContentBackup(_ context.Context, backup store.ContentBackup) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	backup.ID = f.nextID
	backup.CreatedAt = time.Now()
	f.backups = append(f.backups, backup)
	return backup.ID, nil
}

func (f *fakeData) ListContentBackups(_ context.Context, limit int) ([]store.ContentBackup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]store.ContentBackup(nil), f.backups...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeData) GetContentBackup(_ context.Context, id int64) (store.ContentBackup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, backup := range f.backups {
		if backup.ID == id {
			return backup, nil
		}
	}
	return store.ContentBackup{}, sql.ErrNoRows
}

// fakeSessions is an in-memory sessionStore.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]session.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]session.Session{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash string, sess session.Session, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = sess
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[tokenHash]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return sess, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:     "test-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    time.Hour,
		SiteURL:       "https://clearpath.example",
		ContactTo:     "owner@clearpath.example",
		OwnerEmail:    "owner@clearpath.example",
		OwnerPassword: "owner-password",
	}
}

func newTestService(t *testing.T) (*Service, *fakeData) {
	t.Helper()
	data := newFakeData()
	blob := newMemBlob()
	bus := content.NewBus(0, 0)
	svc := New(Deps{
		Config:    testConfig(),
		Store:     data,
		Sessions:  newFakeSessions(),
		Engine:    content.NewEngine(blob, content.Options{Bus: bus}),
		Unified:   content.NewUnifiedStore(blob, bus, nil),
		Passwords: authpw.NewService(data),
		Search:    search.NewService(nil, search.NewLocal()),
	})
	return svc, data
}

func TestBootstrapSeedsOwner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	sess, err := svc.Login(ctx, "owner@clearpath.example", "owner-password")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if sess.Role != "admin" {
		t.Errorf("owner role = %q, want admin", sess.Role)
	}
	if sess.Token == "" || sess.RefreshToken == "" {
		t.Error("session missing tokens")
	}

	parsed, err := svc.SessionFromToken(sess.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if parsed.Email != "owner@clearpath.example" {
		t.Errorf("token email = %q", parsed.Email)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	svc, data := newTestService(t)
	data.addUser(t, "usr_1", "editor@clearpath.example", "correct-horse", "editor")

	_, err := svc.Login(context.Background(), "editor@clearpath.example", "wrong")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("Login() error = %v, want DomainError", err)
	}
	if domainErr.Status != 401 || domainErr.Code != "INVALID_CREDENTIALS" {
		t.Errorf("got status=%d code=%s", domainErr.Status, domainErr.Code)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, data := newTestService(t)
	data.addUser(t, "usr_1", "editor@clearpath.example", "correct-horse", "editor")
	ctx := context.Background()

	first, err := svc.Login(ctx, "editor@clearpath.example", "correct-horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	second, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("refresh token was not rotated")
	}

	// The redeemed token is single-use.
	if _, err := svc.Refresh(ctx, first.RefreshToken); err == nil {
		t.Error("expected second redemption of the same refresh token to fail")
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	svc, data := newTestService(t)
	data.addUser(t, "usr_1", "editor@clearpath.example", "correct-horse", "editor")
	ctx := context.Background()

	sess, err := svc.Login(ctx, "editor@clearpath.example", "correct-horse")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := svc.Logout(ctx, sess.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := svc.Refresh(ctx, sess.RefreshToken); err == nil {
		t.Error("expected refresh after logout to fail")
	}
}

func TestSaveSectionShowsUpInPublicContent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	record, err := svc.SaveSection(ctx, Session{Email: "editor@clearpath.example"}, "hero", "", content.Fields{
		"title": "A new chapter",
	})
	if err != nil {
		t.Fatalf("SaveSection() error = %v", err)
	}
	if record.Kind != content.KindHero {
		t.Errorf("kind = %q, want hero", record.Kind)
	}
	if record.Version == 0 {
		t.Error("saved record has no version")
	}

	fields := svc.PublicSection(ctx, "hero")
	if fields["title"] != "A new chapter" {
		t.Errorf("title = %q, want saved value", fields["title"])
	}
	// Untouched fields keep their built-in values.
	if fields["ctaLabel"] != "Book a free intro call" {
		t.Errorf("ctaLabel = %q, want default", fields["ctaLabel"])
	}

	if svc.ContentVersion(ctx) == 0 {
		t.Error("content version should advance after a save")
	}
}

func TestOverrideWinsOverPublishedContent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	editor := Session{Email: "editor@clearpath.example"}

	if _, err := svc.SaveSection(ctx, editor, "hero", "", content.Fields{"title": "Published"}); err != nil {
		t.Fatalf("SaveSection() error = %v", err)
	}
	if err := svc.SaveOverride(ctx, "hero", content.Fields{"title": "Live preview"}); err != nil {
		t.Fatalf("SaveOverride() error = %v", err)
	}

	if got := svc.PublicSection(ctx, "hero")["title"]; got != "Live preview" {
		t.Errorf("title = %q, want override", got)
	}

	if err := svc.ResetContent(ctx, editor); err != nil {
		t.Fatalf("ResetContent() error = %v", err)
	}
	if got := svc.PublicSection(ctx, "hero")["title"]; got != "Published" {
		t.Errorf("title after reset = %q, want published value", got)
	}
}

func TestDeleteSectionFallsBackToDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	editor := Session{Email: "editor@clearpath.example"}

	if _, err := svc.SaveSection(ctx, editor, "about", "", content.Fields{"title": "My story"}); err != nil {
		t.Fatalf("SaveSection() error = %v", err)
	}
	if err := svc.DeleteSection(ctx, editor, "about"); err != nil {
		t.Fatalf("DeleteSection() error = %v", err)
	}
	if got := svc.PublicSection(ctx, "about")["title"]; got != "About" {
		t.Errorf("title = %q, want built-in default", got)
	}
}

func TestSaveSectionRequiresID(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.SaveSection(context.Background(), Session{}, "  ", "", content.Fields{"title": "x"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("SaveSection() error = %v, want 422 DomainError", err)
	}
}

func TestRestoreBackupRewindsContent(t *testing.T) {
	svc, data := newTestService(t)
	ctx := context.Background()
	admin := Session{Email: "owner@clearpath.example"}

	if _, err := svc.SaveSection(ctx, admin, "hero", "", content.Fields{"title": "First"}); err != nil {
		t.Fatalf("SaveSection() error = %v", err)
	}
	// ResetContent snapshots the published state before clearing overrides.
	if err := svc.ResetContent(ctx, admin); err != nil {
		t.Fatalf("ResetContent() error = %v", err)
	}
	if len(data.backups) != 1 {
		t.Fatalf("backups = %d, want 1", len(data.backups))
	}

	if _, err := svc.SaveSection(ctx, admin, "hero", "", content.Fields{"title": "Second"}); err != nil {
		t.Fatalf("SaveSection() error = %v", err)
	}
	if err := svc.RestoreBackup(ctx, admin, data.backups[0].ID); err != nil {
		t.Fatalf("RestoreBackup() error = %v", err)
	}
	if got := svc.PublicSection(ctx, "hero")["title"]; got != "First" {
		t.Errorf("title after restore = %q, want First", got)
	}
}

func TestSubmitContactValidates(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.SubmitContact(context.Background(), ContactInput{Name: "Jordan"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("SubmitContact() error = %v, want 422 DomainError", err)
	}

	_, err = svc.SubmitContact(context.Background(), ContactInput{
		Name: "Jordan", Email: "not-an-email", Message: "Hi",
	})
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("SubmitContact() with bad email error = %v, want 422", err)
	}
}

func TestSubmitContactStoresAndIndexes(t *testing.T) {
	svc, data := newTestService(t)
	ctx := context.Background()

	message, err := svc.SubmitContact(ctx, ContactInput{
		Name:    "Jordan Reyes",
		Email:   "jordan@example.com",
		Message: "I'd like to book a session about my career change.",
	})
	if err != nil {
		t.Fatalf("SubmitContact() error = %v", err)
	}
	if message.Status != "new" {
		t.Errorf("status = %q, want new", message.Status)
	}

	stored, err := data.ListContactMessages(ctx, "new")
	if err != nil || len(stored) != 1 {
		t.Fatalf("stored messages = %d (err %v), want 1", len(stored), err)
	}

	response := svc.Search(search.Query{Text: "career change"})
	if len(response.Results) != 1 || response.Results[0].Type != search.ResultMessage {
		t.Fatalf("search results = %+v, want the contact message", response.Results)
	}
}

func TestUpdateMessageStatusValidates(t *testing.T) {
	svc, data := newTestService(t)
	ctx := context.Background()

	message, err := svc.SubmitContact(ctx, ContactInput{
		Name: "Jordan", Email: "jordan@example.com", Message: "Hello",
	})
	if err != nil {
		t.Fatalf("SubmitContact() error = %v", err)
	}

	if err := svc.UpdateMessageStatus(ctx, message.ID, "deleted"); err == nil {
		t.Error("expected invalid status to be rejected")
	}
	if err := svc.UpdateMessageStatus(ctx, message.ID, "read"); err != nil {
		t.Fatalf("UpdateMessageStatus() error = %v", err)
	}
	read, _ := data.ListContactMessages(ctx, "read")
	if len(read) != 1 {
		t.Errorf("read messages = %d, want 1", len(read))
	}
}

func TestImportPreviewWithoutBrowser(t *testing.T) {
	svc, _ := newTestService(t)

	// Pasted markup works without a renderer.
	html := `<html><body><section id="hero"><h1>Welcome back</h1></section></body></html>`
	sections, err := svc.ImportPreview(context.Background(), "", html)
	if err != nil {
		t.Fatalf("ImportPreview() error = %v", err)
	}
	if sections["hero"]["title"] != "Welcome back" {
		t.Errorf("hero title = %q", sections["hero"]["title"])
	}

	// Live render without a browser reports the feature as unavailable.
	_, err = svc.ImportPreview(context.Background(), "https://clearpath.example", "")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 503 {
		t.Fatalf("ImportPreview() error = %v, want 503 DomainError", err)
	}
}

func TestImportApplySavesSections(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	applied, err := svc.ImportApply(ctx, Session{Email: "editor@clearpath.example"}, map[string]content.Fields{
		"hero":  {"title": "Imported"},
		"about": {},
	})
	if err != nil {
		t.Fatalf("ImportApply() error = %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1 (empty sections skipped)", applied)
	}
	if got := svc.PublicSection(ctx, "hero")["title"]; got != "Imported" {
		t.Errorf("title = %q, want Imported", got)
	}
}

func TestSearchIndexFollowsSectionLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	editor := Session{Email: "editor@clearpath.example"}

	if _, err := svc.SaveSection(ctx, editor, "services", "", content.Fields{
		"title": "Career coaching",
		"intro": "Navigating promotions and transitions.",
	}); err != nil {
		t.Fatalf("SaveSection() error = %v", err)
	}

	response := svc.Search(search.Query{Text: "promotions", FilterType: search.ResultSection})
	if len(response.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(response.Results))
	}

	if err := svc.DeleteSection(ctx, editor, "services"); err != nil {
		t.Fatalf("DeleteSection() error = %v", err)
	}
	if response := svc.Search(search.Query{Text: "promotions"}); len(response.Results) != 0 {
		t.Errorf("results after delete = %d, want 0", len(response.Results))
	}
}

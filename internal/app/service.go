package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"clearpath/api/internal/auth"
	"clearpath/api/internal/authpw"
	"clearpath/api/internal/config"
	"clearpath/api/internal/content"
	"clearpath/api/internal/email"
	"clearpath/api/internal/history"
	"clearpath/api/internal/importer"
	"clearpath/api/internal/media"
	"clearpath/api/internal/rbac"
	"clearpath/api/internal/search"
	"clearpath/api/internal/session"
	"clearpath/api/internal/store"
	"clearpath/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	authpw.UserStore
	InsertContactMessage(context.Context, store.ContactMessage) error
	ListContactMessages(context.Context, string) ([]store.ContactMessage, error)
	UpdateContactMessageStatus(context.Context, string, string) error
	InsertContentBackup(context.Context, store.ContentBackup) (int64, error)
	ListContentBackups(context.Context, int) ([]store.ContentBackup, error)
	GetContentBackup(context.Context, int64) (store.ContentBackup, error)
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, sess session.Session, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.Session, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// pageRenderer fetches the rendered markup of a live page; nil when no
// headless browser is installed.
type pageRenderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// defaultSections is the built-in content the site renders before the owner
// has saved anything. Every published section falls back to these fields.
var defaultSections = map[string]struct {
	Kind   content.Kind
	Fields content.Fields
}{
	"hero": {content.KindHero, content.Fields{
		"title":    "Find your footing",
		"subtitle": "One-on-one coaching for people in transition",
		"ctaLabel": "Book a free intro call",
		"ctaLink":  "/contact",
	}},
	"services": {content.KindServices, content.Fields{
		"title": "How we can work together",
		"intro": "Every engagement starts with a conversation about where you are and where you want to be.",
	}},
	"pricing": {content.KindPricing, content.Fields{
		"title":        "Plans",
		"starterPrice": "$80",
	}},
	"about": {content.KindAbout, content.Fields{
		"title": "About",
	}},
	"contact": {content.KindContact, content.Fields{
		"title":     "Get in touch",
		"formIntro": "Tell me a little about what brings you here.",
	}},
	"seo": {content.KindSEO, content.Fields{
		"metaTitle":       "Clearpath Coaching",
		"metaDescription": "Personal coaching for life and career transitions.",
	}},
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	db       pinger

	engine    *content.Engine
	unified   *content.UnifiedStore
	passwords *authpw.Service

	importer importer.Importer
	renderer pageRenderer

	search  *search.Service
	history *history.Service
	mailer  Mailer
	media   MediaLibrary
}

// Mailer is the slice of the email service the app needs; nil when SMTP is
// not configured.
type Mailer interface {
	IsConfigured() bool
	SendContactNotification(to string, data email.ContactNotificationData) error
	SendPasswordResetEmail(to, userName, resetURL string) error
}

// MediaLibrary is the slice of the media service the app needs; nil when
// object storage is not configured.
type MediaLibrary interface {
	Upload(ctx context.Context, filename, contentType string, size int64, body io.Reader) (media.Object, error)
	List(ctx context.Context) ([]media.Object, error)
	Delete(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Deps collects the collaborators the service is built from. Optional
// members may be nil; the matching endpoints then degrade gracefully.
type Deps struct {
	Config    config.Config
	Store     dataStore
	Sessions  sessionStore
	DB        pinger
	Engine    *content.Engine
	Unified   *content.UnifiedStore
	Passwords *authpw.Service
	Importer  importer.Importer
	Renderer  pageRenderer
	Search    *search.Service
	History   *history.Service
	Mailer    Mailer
	Media     MediaLibrary
}

func New(deps Deps) *Service {
	if deps.Importer == nil {
		deps.Importer = importer.New()
	}
	return &Service{
		cfg:       deps.Config,
		store:     deps.Store,
		sessions:  deps.Sessions,
		db:        deps.DB,
		engine:    deps.Engine,
		unified:   deps.Unified,
		passwords: deps.Passwords,
		importer:  deps.Importer,
		renderer:  deps.Renderer,
		search:    deps.Search,
		history:   deps.History,
		mailer:    deps.Mailer,
		media:     deps.Media,
	}
}

// Bootstrap runs the one-time startup work: seed the owner account, migrate
// any legacy per-section blobs, and warm the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.passwords.SeedOwner(ctx, s.cfg.OwnerEmail, s.cfg.OwnerPassword); err != nil {
		return fmt.Errorf("seed owner: %w", err)
	}

	migrated, err := s.unified.MigrateLegacy(ctx)
	if err != nil {
		return fmt.Errorf("migrate legacy content: %w", err)
	}
	if migrated > 0 {
		log.Printf("app: migrated %d legacy sections", migrated)
	}

	s.reindexSections(ctx)
	return nil
}

func (s *Service) reindexSections(ctx context.Context) {
	if s.search == nil {
		return
	}
	sections := s.unified.Sections(ctx)
	records := make([]search.SectionRecord, 0, len(sections))
	for id, record := range sections {
		records = append(records, search.SectionRecordFrom(id, string(record.Kind), record.Fields))
	}
	s.search.ReindexSections(records)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Ping(ctx)
}

// Subscribe exposes the content event stream for SSE delivery.
func (s *Service) Subscribe(fn func(content.Event)) func() {
	return s.engine.Subscribe(fn)
}

// --- sessions ---

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user.ID, user.Email, user.Role)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	sess, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
		}
		return Session{}, err
	}
	// Rotate: the redeemed token is single-use.
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, sess.UserID, sess.Email, sess.Role)
}

func (s *Service) issueSession(ctx context.Context, userID, email, role string) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   userID,
		Email: email,
		Role:  role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), session.Session{
		UserID: userID,
		Email:  email,
		Role:   role,
	}, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       userID,
		Email:        email,
		Role:         role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		Email:     claims.Email,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) ChangePassword(ctx context.Context, sess Session, current, next string) error {
	return s.passwords.ChangePassword(ctx, sess.UserID, current, next)
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	token, err := s.passwords.RequestPasswordReset(ctx, email)
	if err != nil {
		return err
	}
	if token == "" || s.mailer == nil || !s.mailer.IsConfigured() {
		return nil
	}
	resetURL := strings.TrimRight(s.cfg.SiteURL, "/") + "/admin/reset-password?token=" + token
	go func() {
		if err := s.mailer.SendPasswordResetEmail(email, email, resetURL); err != nil {
			log.Printf("app: send reset email: %v", err)
		}
	}()
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	return s.passwords.ResetPassword(ctx, token, newPassword)
}

// --- published content ---

// sectionDefaults resolves the base fields for a section: the built-in site
// copy, overlaid with whatever the owner has published to the versioned
// store.
func (s *Service) sectionDefaults(ctx context.Context, sectionID string) content.Fields {
	builtin := defaultSections[sectionID].Fields
	return s.unified.GetSection(ctx, sectionID, builtin)
}

// PublicSection returns the fields the site renders for one section:
// defaults, published content, then any live override on top. Resolution
// never fails; on storage trouble the defaults win.
func (s *Service) PublicSection(ctx context.Context, sectionID string) content.Fields {
	return s.engine.Resolve(ctx, sectionID, s.sectionDefaults(ctx, sectionID))
}

// PublicContent resolves every known section plus anything else the owner
// has published.
func (s *Service) PublicContent(ctx context.Context) map[string]content.Fields {
	ids := map[string]struct{}{}
	for id := range defaultSections {
		ids[id] = struct{}{}
	}
	for id := range s.unified.Sections(ctx) {
		ids[id] = struct{}{}
	}

	resolved := make(map[string]content.Fields, len(ids))
	for id := range ids {
		resolved[id] = s.PublicSection(ctx, id)
	}
	return resolved
}

func (s *Service) ContentVersion(ctx context.Context) int64 {
	return s.unified.Version(ctx)
}

// --- admin content management ---

func (s *Service) Sections(ctx context.Context) []content.SectionRecord {
	sections := s.unified.Sections(ctx)
	records := make([]content.SectionRecord, 0, len(sections))
	for _, record := range sections {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

func (s *Service) SaveSection(ctx context.Context, sess Session, sectionID, kind string, fields content.Fields) (content.SectionRecord, error) {
	if strings.TrimSpace(sectionID) == "" {
		return content.SectionRecord{}, validationError("section id is required")
	}
	if kind == "" {
		if builtin, ok := defaultSections[sectionID]; ok {
			kind = string(builtin.Kind)
		} else {
			kind = string(content.KindCustom)
		}
	}

	if err := s.unified.SaveSection(ctx, sectionID, kind, fields); err != nil {
		return content.SectionRecord{}, err
	}
	record, ok := s.unified.Record(ctx, sectionID)
	if !ok {
		return content.SectionRecord{}, fmt.Errorf("section %s missing after save", sectionID)
	}
	// Published fields feed resolution as defaults, so cached resolutions
	// are stale now.
	s.engine.ClearCache()

	if s.search != nil {
		s.search.IndexSection(search.SectionRecordFrom(record.ID, string(record.Kind), record.Fields))
	}
	s.recordHistory(ctx, sess, fmt.Sprintf("Save section %s", sectionID))
	return record, nil
}

func (s *Service) DeleteSection(ctx context.Context, sess Session, sectionID string) error {
	if err := s.unified.DeleteSection(ctx, sectionID); err != nil {
		return err
	}
	s.engine.ClearCache()
	if s.search != nil {
		s.search.DeleteSection(sectionID)
	}
	s.recordHistory(ctx, sess, fmt.Sprintf("Delete section %s", sectionID))
	return nil
}

// SaveOverride stores a live override for a section without touching the
// published record; the site picks it up on next resolve.
func (s *Service) SaveOverride(ctx context.Context, sectionID string, fields content.Fields) error {
	if strings.TrimSpace(sectionID) == "" {
		return validationError("section id is required")
	}
	return s.engine.Save(ctx, sectionID, fields)
}

// ResetContent backs the current published state up, then clears all
// overrides so the site falls back to published content and defaults.
func (s *Service) ResetContent(ctx context.Context, sess Session) error {
	if err := s.backupContent(ctx, sess, "before reset"); err != nil {
		log.Printf("app: content backup before reset failed: %v", err)
	}
	if err := s.engine.ResetAll(ctx); err != nil {
		return err
	}
	s.recordHistory(ctx, sess, "Reset overrides")
	return nil
}

func (s *Service) backupContent(ctx context.Context, sess Session, note string) error {
	sections := s.unified.Sections(ctx)
	snapshot, err := json.Marshal(sections)
	if err != nil {
		return err
	}
	_, err = s.store.InsertContentBackup(ctx, store.ContentBackup{
		Version:   s.unified.Version(ctx),
		Snapshot:  snapshot,
		Note:      note,
		CreatedBy: sess.Email,
	})
	return err
}

func (s *Service) recordHistory(ctx context.Context, sess Session, message string) {
	if s.history == nil {
		return
	}
	sections := s.unified.Sections(ctx)
	version := s.unified.Version(ctx)
	author := sess.Email
	if author == "" {
		author = "system"
	}
	if _, err := s.history.Record(history.Snapshot{Version: version, Sections: sections}, author, message); err != nil {
		log.Printf("app: record history: %v", err)
	}
}

// --- import ---

// ImportPreview extracts editable fields for every known section from the
// given markup, or from the rendered live site when markup is empty.
func (s *Service) ImportPreview(ctx context.Context, pageURL, html string) (map[string]content.Fields, error) {
	if html == "" {
		if s.renderer == nil {
			return nil, domainError(http.StatusServiceUnavailable, "IMPORT_UNAVAILABLE", "No headless browser installed; paste the page markup instead", nil)
		}
		if pageURL == "" {
			pageURL = s.cfg.SiteURL
		}
		rendered, err := s.renderer.Render(ctx, pageURL)
		if err != nil {
			if errors.Is(err, importer.ErrChromiumMissing) {
				return nil, domainError(http.StatusServiceUnavailable, "IMPORT_UNAVAILABLE", "No headless browser installed; paste the page markup instead", nil)
			}
			return nil, fmt.Errorf("render page: %w", err)
		}
		html = rendered
	}

	extracted := make(map[string]content.Fields)
	for sectionID := range defaultSections {
		fields := s.importer.Extract(sectionID, html)
		if len(fields) > 0 {
			extracted[sectionID] = fields
		}
	}
	return extracted, nil
}

// ImportApply saves extracted fields into the published store, one section
// at a time.
func (s *Service) ImportApply(ctx context.Context, sess Session, sections map[string]content.Fields) (int, error) {
	applied := 0
	for sectionID, fields := range sections {
		if len(fields) == 0 {
			continue
		}
		if _, err := s.SaveSection(ctx, sess, sectionID, "", fields); err != nil {
			return applied, fmt.Errorf("apply section %s: %w", sectionID, err)
		}
		applied++
	}
	return applied, nil
}

// --- history and backups ---

func (s *Service) HistoryLog(limit int) ([]history.CommitInfo, error) {
	if s.history == nil {
		return []history.CommitInfo{}, nil
	}
	return s.history.Log(limit)
}

// RestoreHistory rewrites the published store to match an earlier snapshot.
func (s *Service) RestoreHistory(ctx context.Context, sess Session, hash string) error {
	if s.history == nil {
		return domainError(http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Content history is not configured", nil)
	}
	snapshot, err := s.history.SnapshotAt(hash)
	if err != nil {
		return notFoundError("History entry not found")
	}
	if err := s.backupContent(ctx, sess, "before restore of "+hash); err != nil {
		log.Printf("app: content backup before restore failed: %v", err)
	}
	for _, record := range snapshot.Sections {
		if err := s.unified.SaveSection(ctx, record.ID, string(record.Kind), record.Fields); err != nil {
			return fmt.Errorf("restore section %s: %w", record.ID, err)
		}
	}
	s.engine.ClearCache()
	s.reindexSections(ctx)
	s.recordHistory(ctx, sess, "Restore snapshot "+hash)
	return nil
}

func (s *Service) Backups(ctx context.Context, limit int) ([]store.ContentBackup, error) {
	return s.store.ListContentBackups(ctx, limit)
}

func (s *Service) RestoreBackup(ctx context.Context, sess Session, id int64) error {
	backup, err := s.store.GetContentBackup(ctx, id)
	if err != nil {
		return notFoundError("Backup not found")
	}
	var sections map[string]content.SectionRecord
	if err := json.Unmarshal(backup.Snapshot, &sections); err != nil {
		return fmt.Errorf("decode backup %d: %w", id, err)
	}
	for _, record := range sections {
		if err := s.unified.SaveSection(ctx, record.ID, string(record.Kind), record.Fields); err != nil {
			return fmt.Errorf("restore section %s: %w", record.ID, err)
		}
	}
	s.engine.ClearCache()
	s.reindexSections(ctx)
	s.recordHistory(ctx, sess, fmt.Sprintf("Restore backup %d", id))
	return nil
}

// --- contact ---

type ContactInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (s *Service) SubmitContact(ctx context.Context, input ContactInput) (store.ContactMessage, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.TrimSpace(input.Email)
	input.Message = strings.TrimSpace(input.Message)
	if input.Name == "" || input.Email == "" || input.Message == "" {
		return store.ContactMessage{}, validationError("name, email, and message are required")
	}
	if !strings.Contains(input.Email, "@") {
		return store.ContactMessage{}, validationError("email is not valid")
	}

	message := store.ContactMessage{
		ID:      util.NewID("msg"),
		Name:    input.Name,
		Email:   input.Email,
		Phone:   strings.TrimSpace(input.Phone),
		Message: input.Message,
		Status:  "new",
	}
	if err := s.store.InsertContactMessage(ctx, message); err != nil {
		return store.ContactMessage{}, err
	}

	if s.search != nil {
		s.search.IndexMessage(search.MessageRecord{
			ID:      message.ID,
			Name:    message.Name,
			Email:   message.Email,
			Message: message.Message,
		})
	}

	if s.mailer != nil && s.mailer.IsConfigured() && s.cfg.ContactTo != "" {
		notification := email.ContactNotificationData{
			Name:    message.Name,
			Email:   message.Email,
			Phone:   message.Phone,
			Message: message.Message,
		}
		go func() {
			if err := s.mailer.SendContactNotification(s.cfg.ContactTo, notification); err != nil {
				log.Printf("app: contact notification: %v", err)
			}
		}()
	}
	return message, nil
}

func (s *Service) Messages(ctx context.Context, status string) ([]store.ContactMessage, error) {
	return s.store.ListContactMessages(ctx, status)
}

func (s *Service) UpdateMessageStatus(ctx context.Context, messageID, status string) error {
	switch status {
	case "new", "read", "archived":
	default:
		return validationError("status must be new, read, or archived")
	}
	return s.store.UpdateContactMessageStatus(ctx, messageID, status)
}

// --- search ---

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

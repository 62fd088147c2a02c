// Package docsource is a development document source. It serves PDFs from a
// directory as /documents/{id} to callers presenting an HS256 bearer token.
package docsource

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMissing = errors.New("bearer token is required")
	ErrTokenInvalid = errors.New("bearer token is invalid")
	ErrTokenExpired = errors.New("bearer token is expired")
	ErrForbidden    = errors.New("token does not grant this document")
)

// Env holds the raw environment for cmd/docsource.
type Env struct {
	Addr       string `env:"DOCSOURCE_ADDR" envDefault:":8090"`
	Dir        string `env:"DOCSOURCE_DIR" envDefault:"documents"`
	SigningKey string `env:"DOCSOURCE_SIGNING_KEY"`
	Issuer     string `env:"DOCSOURCE_ISSUER" envDefault:"docsource"`
	Audience   string `env:"DOCSOURCE_AUDIENCE" envDefault:"docviewer"`
}

// Config configures a Server.
type Config struct {
	Dir      string
	Key      []byte
	Issuer   string
	Audience string
	Now      func() time.Time
	Logger   *slog.Logger
}

// ConfigFromEnv validates raw environment values.
func ConfigFromEnv(raw Env) (Config, error) {
	key := strings.TrimSpace(raw.SigningKey)
	if key == "" {
		return Config{}, fmt.Errorf("DOCSOURCE_SIGNING_KEY is required")
	}
	keyBytes, err := decodeBase64(key)
	if err != nil {
		return Config{}, fmt.Errorf("decode signing key: %w", err)
	}
	if len(keyBytes) < 32 {
		return Config{}, fmt.Errorf("signing key must be at least 32 bytes")
	}
	return Config{
		Dir:      raw.Dir,
		Key:      keyBytes,
		Issuer:   strings.TrimSpace(raw.Issuer),
		Audience: strings.TrimSpace(raw.Audience),
	}, nil
}

// Claims are the token claims. An empty Documents list grants every document.
type Claims struct {
	jwt.RegisteredClaims
	Documents []string `json:"documents,omitempty"`
}

// IssueToken signs a token for subject valid for ttl.
func IssueToken(cfg Config, subject string, documents []string, ttl time.Duration) (string, error) {
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	issuedAt := now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		Documents: documents,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Server serves documents from a directory.
type Server struct {
	cfg    Config
	root   *os.Root
	logger *slog.Logger
}

// NewServer opens cfg.Dir. Close releases it.
func NewServer(cfg Config) (*Server, error) {
	if len(cfg.Key) == 0 {
		return nil, errors.New("signing key is required")
	}
	root, err := os.OpenRoot(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("open document dir: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, root: root, logger: logger.With("component", "docsource")}, nil
}

func (s *Server) Close() error {
	return s.root.Close()
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /documents/{id}", s.serveDocument)
	return mux
}

func (s *Server) serveDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	logger := s.logger.With("documentId", id)

	claims, err := s.verify(r.Header.Get("Authorization"))
	if err != nil {
		logger.Info("rejected request", "error", err)
		w.Header().Set("WWW-Authenticate", `Bearer realm="docsource"`)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if len(claims.Documents) > 0 && !slices.Contains(claims.Documents, id) {
		http.Error(w, ErrForbidden.Error(), http.StatusForbidden)
		return
	}

	f, err := s.root.Open(id + ".pdf")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		// Escapes from the root and other bad names land here too.
		logger.Warn("open document failed", "error", err)
		http.Error(w, "document unavailable", http.StatusBadRequest)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	http.ServeContent(w, r, "", info.ModTime(), f)
}

func (s *Server) verify(header string) (*Claims, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return nil, ErrTokenMissing
	}

	var claims Claims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.cfg.Now),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	if s.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.Audience))
	}
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.cfg.Key, nil
	}, opts...)
	switch {
	case err == nil:
		return &claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

func decodeBase64(value string) ([]byte, error) {
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jonathan/levelup/internal/codec"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

const (
	// DefaultFirestoreBaseURL is the public Firestore REST endpoint.
	DefaultFirestoreBaseURL = "https://firestore.googleapis.com/v1"
	datastoreScope          = "https://www.googleapis.com/auth/datastore"
	maxErrorBody            = 4 << 10
)

// FirestoreConfig configures the Firestore REST backend.
type FirestoreConfig struct {
	ProjectID  string
	Database   string // defaults to "(default)"
	Collection string

	// APIKey or CredentialsFile authenticates against the public endpoint.
	APIKey          string
	CredentialsFile string

	// EmulatorHost, when set (host:port), targets a local emulator over plain HTTP.
	EmulatorHost string

	// BaseURL and HTTPClient override endpoint and transport, mainly for tests.
	BaseURL    string
	HTTPClient *http.Client
}

// Firestore is a DocumentStore backed by the Firestore REST API. The version
// token of a document is its updateTime.
type Firestore struct {
	client     *http.Client
	baseURL    string
	collection string
}

// NewFirestore builds a Firestore backend. Without an explicit HTTP client or
// emulator host the transport comes from google.golang.org/api, which handles
// API keys, service account files and application default credentials.
func NewFirestore(ctx context.Context, cfg FirestoreConfig) (*Firestore, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore project id is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("firestore collection is required")
	}
	database := cfg.Database
	if database == "" {
		database = "(default)"
	}

	base := cfg.BaseURL
	client := cfg.HTTPClient
	switch {
	case cfg.EmulatorHost != "":
		if base == "" {
			base = "http://" + cfg.EmulatorHost + "/v1"
		}
		if client == nil {
			client = &http.Client{Transport: emulatorTransport{base: http.DefaultTransport}}
		}
	case client == nil:
		opts := []option.ClientOption{option.WithScopes(datastoreScope)}
		if cfg.APIKey != "" {
			opts = append(opts, option.WithAPIKey(cfg.APIKey))
		}
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		c, _, err := htransport.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore transport: %w", err)
		}
		client = c
	}
	if base == "" {
		base = DefaultFirestoreBaseURL
	}

	return &Firestore{
		client: client,
		baseURL: fmt.Sprintf("%s/projects/%s/databases/%s/documents",
			strings.TrimRight(base, "/"), url.PathEscape(cfg.ProjectID), url.PathEscape(database)),
		collection: cfg.Collection,
	}, nil
}

// emulatorTransport adds the owner token the emulator accepts for unrestricted access.
type emulatorTransport struct {
	base http.RoundTripper
}

func (t emulatorTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer owner")
	return t.base.RoundTrip(r)
}

type firestoreDocument struct {
	Name       string                     `json:"name,omitempty"`
	Fields     map[string]json.RawMessage `json:"fields,omitempty"`
	UpdateTime string                     `json:"updateTime,omitempty"`
}

type firestoreList struct {
	Documents     []firestoreDocument `json:"documents"`
	NextPageToken string              `json:"nextPageToken"`
}

type firestoreError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (f *Firestore) docURL(id string) string {
	return f.baseURL + "/" + url.PathEscape(f.collection) + "/" + url.PathEscape(id)
}

// Get implements DocumentStore.
func (f *Firestore) Get(ctx context.Context, id string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.docURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	var doc firestoreDocument
	if err := f.do(req, &doc); err != nil {
		return nil, err
	}
	return doc.toDocument(id)
}

// Patch implements DocumentStore.
func (f *Firestore) Patch(ctx context.Context, id string, fields codec.Map, ifVersion string) (string, error) {
	wire, err := codec.FieldsToWire(fields)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(map[string]any{"fields": wire})
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	q := url.Values{}
	if ifVersion == "" {
		q.Set("currentDocument.exists", "false")
	} else {
		q.Set("currentDocument.updateTime", ifVersion)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, f.docURL(id)+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var doc firestoreDocument
	if err := f.do(req, &doc); err != nil {
		// A vanished document under an updateTime precondition is a lost race too.
		if ifVersion != "" && errors.Is(err, ErrNotFound) {
			return "", ErrConflict
		}
		return "", err
	}
	if doc.UpdateTime == "" {
		return "", fmt.Errorf("firestore response for %s has no updateTime", id)
	}
	return doc.UpdateTime, nil
}

// List implements DocumentStore.
func (f *Firestore) List(ctx context.Context, pageSize int, pageToken string) (*Page, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(pageSize))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/"+url.PathEscape(f.collection)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	var list firestoreList
	if err := f.do(req, &list); err != nil {
		return nil, err
	}

	page := &Page{
		Documents:     make([]Document, 0, len(list.Documents)),
		NextPageToken: list.NextPageToken,
	}
	for _, d := range list.Documents {
		doc, err := d.toDocument(lastSegment(d.Name))
		if err != nil {
			return nil, err
		}
		page.Documents = append(page.Documents, *doc)
	}
	return page, nil
}

// do executes req and decodes a 2xx JSON body into out. Error statuses map to
// ErrNotFound, ErrConflict or *StatusError.
func (f *Firestore) do(req *http.Request, out any) error {
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("firestore %s failed: %w", req.Method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode firestore response: %w", err)
		}
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var fe firestoreError
	_ = json.Unmarshal(raw, &fe)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusPreconditionFailed,
		fe.Error.Status == "FAILED_PRECONDITION",
		fe.Error.Status == "ALREADY_EXISTS",
		fe.Error.Status == "ABORTED":
		return ErrConflict
	}
	return &StatusError{Status: resp.StatusCode, Code: fe.Error.Status, Body: strings.TrimSpace(string(raw))}
}

func (d firestoreDocument) toDocument(id string) (*Document, error) {
	fields, err := codec.FieldsFromWire(d.Fields)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	return &Document{ID: id, Fields: fields, Version: d.UpdateTime}, nil
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

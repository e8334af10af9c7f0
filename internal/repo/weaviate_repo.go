package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/incident-rca/internal/cache"
	"github.com/miradorstack/incident-rca/internal/models"
	"github.com/miradorstack/incident-rca/internal/utils"
)

// DefaultFingerprintClass is the Weaviate class holding incident fingerprints.
const DefaultFingerprintClass = "IncidentFingerprint"

// ErrStoreNotConfigured is returned when no Weaviate endpoint is configured.
var ErrStoreNotConfigured = errors.New("fingerprint store endpoint not configured")

// WeaviateConfig configures the fingerprint store client.
type WeaviateConfig struct {
	Endpoint  string
	APIKey    string
	ClassName string
	Timeout   time.Duration
	// CacheTTL enables read-through caching of lookups when positive.
	CacheTTL time.Duration
}

// WeaviateRepo reads and writes historical incident fingerprints in Weaviate.
type WeaviateRepo struct {
	endpoint   string
	apiKey     string
	className  string
	httpClient *http.Client
	cache      cache.Provider
	cacheTTL   time.Duration
	logger     *slog.Logger
}

// NewWeaviateRepo constructs a Weaviate client.
func NewWeaviateRepo(cfg WeaviateConfig, cacheProvider cache.Provider, logger *slog.Logger) *WeaviateRepo {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheTTL < 0 {
		cfg.CacheTTL = 0
	}
	if cfg.ClassName == "" {
		cfg.ClassName = DefaultFingerprintClass
	}
	return &WeaviateRepo{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:     cfg.APIKey,
		className:  cfg.ClassName,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cacheProvider,
		cacheTTL:   cfg.CacheTTL,
		logger:     logger,
	}
}

// SimilarFingerprints returns stored incidents sharing a category or source with
// fp, at most limit of them. Failures are returned to the caller; there is no
// synthetic fallback.
func (r *WeaviateRepo) SimilarFingerprints(ctx context.Context, fp models.Fingerprint, limit int) ([]models.HistoricalIncident, error) {
	const op = "weaviate.SimilarFingerprints"
	if r == nil {
		return nil, utils.NewAppError(op, "repo not initialised", nil)
	}
	if r.endpoint == "" {
		return nil, ErrStoreNotConfigured
	}
	if limit <= 0 {
		limit = 50
	}

	cacheKey := ""
	if r.cacheTTL > 0 {
		cacheKey = r.similarKey(fp, limit, r.generation(ctx))
		if data, err := r.cache.Get(ctx, cacheKey); err == nil {
			var cached []models.HistoricalIncident
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	query, err := r.similarQuery(fp, limit)
	if err != nil {
		return nil, utils.NewAppError(op, "build query", err)
	}

	var response struct {
		Data struct {
			Get map[string][]fingerprintRecord `json:"Get"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := r.do(ctx, http.MethodPost, "/v1/graphql", map[string]string{"query": query}, &response); err != nil {
		return nil, utils.NewAppError(op, "graphql request failed", err)
	}
	if len(response.Errors) > 0 {
		return nil, utils.NewAppError(op, "graphql error", errors.New(response.Errors[0].Message))
	}

	records := response.Data.Get[r.className]
	results := make([]models.HistoricalIncident, 0, len(records))
	for _, rec := range records {
		incident, err := rec.toModel()
		if err != nil {
			r.logger.Warn("skipping malformed fingerprint record",
				slog.String("incident_id", rec.IncidentID), slog.Any("error", err))
			continue
		}
		results = append(results, incident)
	}

	if cacheKey != "" && len(results) > 0 {
		if payload, err := json.Marshal(results); err == nil {
			_ = r.cache.Set(ctx, cacheKey, payload, r.cacheTTL)
		}
	}
	return results, nil
}

// StoreFingerprint upserts an analysed incident. The object ID is derived from
// the incident ID so repeated analyses replace the same object. A successful
// write invalidates cached similarity lookups.
func (r *WeaviateRepo) StoreFingerprint(ctx context.Context, incident models.HistoricalIncident) error {
	const op = "weaviate.StoreFingerprint"
	if r == nil {
		return utils.NewAppError(op, "repo not initialised", nil)
	}
	if r.endpoint == "" {
		return ErrStoreNotConfigured
	}
	if incident.IncidentID == "" {
		return utils.NewAppError(op, "incident id is required", nil)
	}

	props, err := buildFingerprintProperties(incident)
	if err != nil {
		return utils.NewAppError(op, "encode properties", err)
	}
	id := ObjectID(incident.IncidentID)
	payload := map[string]interface{}{
		"class":      r.className,
		"id":         id,
		"properties": props,
	}

	// PUT replaces an existing object; a 404 means it has not been created yet.
	objectPath := fmt.Sprintf("/v1/objects/%s/%s", url.PathEscape(r.className), id)
	err = r.do(ctx, http.MethodPut, objectPath, payload, nil)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
		err = r.do(ctx, http.MethodPost, "/v1/objects", payload, nil)
	}
	if err != nil {
		return utils.NewAppError(op, "store fingerprint failed", err)
	}

	r.invalidateSimilar(ctx)
	return nil
}

// StatusError is a non-2xx answer from Weaviate.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("weaviate returned %s: %s", e.Status, e.Body)
}

func (r *WeaviateRepo) generationKey() string {
	return "weaviate:similar:gen:" + r.className
}

// generation is the current cache generation for similarity lookups. Keys from
// an older generation are never read again.
func (r *WeaviateRepo) generation(ctx context.Context) string {
	data, err := r.cache.Get(ctx, r.generationKey())
	if err != nil || len(data) == 0 {
		return "0"
	}
	return string(data)
}

// invalidateSimilar starts a new generation. The marker lives as long as the
// entries it hides, so generation "0" never resurfaces stale entries.
func (r *WeaviateRepo) invalidateSimilar(ctx context.Context) {
	if r.cacheTTL <= 0 {
		return
	}
	if err := r.cache.Set(ctx, r.generationKey(), []byte(uuid.NewString()), r.cacheTTL); err != nil {
		r.logger.Warn("similarity cache invalidation failed", slog.Any("error", err))
	}
}

// ObjectID maps an incident ID onto the UUID Weaviate requires for object IDs.
func ObjectID(incidentID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("incident-rca:"+incidentID)).String()
}

func (r *WeaviateRepo) do(ctx context.Context, method, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type fingerprintRecord struct {
	IncidentID      string   `json:"incidentId"`
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	RootCause       string   `json:"rootCause"`
	Categories      []string `json:"categories"`
	Sources         []string `json:"sources"`
	SeverityProfile string   `json:"severityProfile"`
	OccurredAt      string   `json:"occurredAt"`
}

func (rec fingerprintRecord) toModel() (models.HistoricalIncident, error) {
	if rec.IncidentID == "" {
		return models.HistoricalIncident{}, errors.New("missing incidentId")
	}
	profile := map[models.Phase]models.SeverityHistogram{}
	if rec.SeverityProfile != "" {
		if err := json.Unmarshal([]byte(rec.SeverityProfile), &profile); err != nil {
			return models.HistoricalIncident{}, fmt.Errorf("decode severity profile: %w", err)
		}
	}
	occurred, _ := time.Parse(time.RFC3339, rec.OccurredAt)
	return models.HistoricalIncident{
		IncidentID: rec.IncidentID,
		Title:      rec.Title,
		Summary:    rec.Summary,
		RootCause:  rec.RootCause,
		Fingerprint: models.Fingerprint{
			IncidentID:      rec.IncidentID,
			Categories:      rec.Categories,
			Sources:         rec.Sources,
			SeverityProfile: profile,
			OccurredAt:      occurred,
		},
		OccurredAt: occurred,
	}, nil
}

func buildFingerprintProperties(incident models.HistoricalIncident) (map[string]interface{}, error) {
	profile, err := json.Marshal(incident.Fingerprint.SeverityProfile)
	if err != nil {
		return nil, err
	}
	occurred := incident.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return map[string]interface{}{
		"incidentId":      incident.IncidentID,
		"title":           incident.Title,
		"summary":         incident.Summary,
		"rootCause":       incident.RootCause,
		"categories":      nonNil(incident.Fingerprint.Categories),
		"sources":         nonNil(incident.Fingerprint.Sources),
		"severityProfile": string(profile),
		"occurredAt":      occurred.UTC().Format(time.RFC3339),
	}, nil
}

// similarQuery filters on category or source overlap so only plausible
// neighbours come back. Values are JSON-encoded, which is valid GraphQL.
func (r *WeaviateRepo) similarQuery(fp models.Fingerprint, limit int) (string, error) {
	operands := make([]string, 0, 2)
	for _, f := range []struct {
		path   string
		values []string
	}{{"categories", fp.Categories}, {"sources", fp.Sources}} {
		if len(f.values) == 0 {
			continue
		}
		encoded, err := json.Marshal(f.values)
		if err != nil {
			return "", err
		}
		operands = append(operands, fmt.Sprintf(`{path: ["%s"], operator: ContainsAny, valueText: %s}`, f.path, encoded))
	}

	where := ""
	if len(operands) > 0 {
		where = fmt.Sprintf("where: { operator: Or, operands: [%s] }", strings.Join(operands, ", "))
	}

	return fmt.Sprintf(`{
  Get {
    %s(
      limit: %d
      %s
    ) {
      incidentId
      title
      summary
      rootCause
      categories
      sources
      severityProfile
      occurredAt
    }
  }
}`, r.className, limit, where), nil
}

func (r *WeaviateRepo) similarKey(fp models.Fingerprint, limit int, generation string) string {
	cats := append([]string(nil), fp.Categories...)
	srcs := append([]string(nil), fp.Sources...)
	sort.Strings(cats)
	sort.Strings(srcs)
	return fmt.Sprintf("weaviate:similar:%s:%s:%d:%s:%s", r.className, generation, limit, strings.Join(cats, "|"), strings.Join(srcs, "|"))
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

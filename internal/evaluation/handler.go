package evaluation

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
	"github.com/recoeval/reco-eval/internal/pkg/logger"
	"github.com/recoeval/reco-eval/internal/results"
	"github.com/recoeval/reco-eval/internal/tensor"
)

const maxRequestBytes = 32 << 20

// Handler provides HTTP handlers for evaluation.
type Handler struct {
	store results.Store
	log   *logger.Logger
}

// NewHandler creates a new evaluation handler. store may be nil, in which
// case the report routes answer 503.
func NewHandler(store results.Store, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{store: store, log: log}
}

// RegisterRoutes registers evaluation routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/evaluation/score", h.handleScore)
	mux.HandleFunc("POST /v1/evaluation/top-all", h.handleTopAll)
	mux.HandleFunc("GET /v1/evaluation/reports", h.handleListReports)
	mux.HandleFunc("GET /v1/evaluation/reports/{id}", h.handleGetReport)
}

// ScoreRequest scores a precomputed query x gallery matrix.
type ScoreRequest struct {
	Scores        [][]float32 `json:"scores"`
	QueryLabels   []int       `json:"query_labels"`
	GalleryLabels []int       `json:"gallery_labels"`
	Ks            []int       `json:"ks"`
}

// ScoreResponse is the JSON form of a ScoreReport.
type ScoreResponse struct {
	TopK    map[string]float64 `json:"top_k"`
	Ranking map[string]float64 `json:"ranking"`
	Queries int                `json:"queries"`
	Columns int                `json:"columns"`
}

// TopAllRequest scores precomputed candidate lists.
type TopAllRequest struct {
	QueryLabels []int   `json:"query_labels"`
	Candidates  [][]int `json:"candidates"`
}

// TopAllResponse holds a top-all accuracy.
type TopAllResponse struct {
	Accuracy float64 `json:"accuracy"`
	Queries  int     `json:"queries"`
}

// ReportList is the response of the report listing.
type ReportList struct {
	Reports []results.Brief `json:"reports"`
	Total   int             `json:"total"`
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := decode(w, r, &req); err != nil {
		errors.WriteError(w, err)
		return
	}
	if len(req.Ks) == 0 {
		req.Ks = []int{1}
	}

	scores, err := scoreMatrix(req.Scores, len(req.GalleryLabels))
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	rep, err := EvaluateScores(scores, req.QueryLabels, req.GalleryLabels, req.Ks)
	if err != nil {
		errors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ScoreResponse{
		TopK:    stringKeys(rep.TopK),
		Ranking: rep.Ranking.Flatten(),
		Queries: rep.Queries,
		Columns: rep.Columns,
	})
}

func (h *Handler) handleTopAll(w http.ResponseWriter, r *http.Request) {
	var req TopAllRequest
	if err := decode(w, r, &req); err != nil {
		errors.WriteError(w, err)
		return
	}

	acc, err := TopAllAccuracy(req.QueryLabels, req.Candidates)
	if err != nil {
		errors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TopAllResponse{Accuracy: acc, Queries: len(req.QueryLabels)})
}

func (h *Handler) handleListReports(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		errors.WriteError(w, errors.ServiceUnavailableError("results store"))
		return
	}

	reports, err := h.store.List(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to list reports")
		errors.WriteError(w, err)
		return
	}

	limit := len(reports)
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			errors.WriteError(w, errors.InvalidRequestError("limit must be a positive integer"))
			return
		}
		limit = min(n, limit)
	}

	briefs := make([]results.Brief, 0, limit)
	for _, rep := range reports[:limit] {
		briefs = append(briefs, rep.Brief())
	}
	writeJSON(w, http.StatusOK, ReportList{Reports: briefs, Total: len(reports)})
}

func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		errors.WriteError(w, errors.ServiceUnavailableError("results store"))
		return
	}

	report, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		errors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.InvalidRequestError(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// scoreMatrix converts request rows to a matrix. An empty row list yields
// a 0 x columns matrix so the scorer reports the empty query set.
func scoreMatrix(rows [][]float32, columns int) (*tensor.Matrix, error) {
	if len(rows) == 0 {
		return tensor.New(0, columns), nil
	}
	m, err := tensor.FromRows(rows)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

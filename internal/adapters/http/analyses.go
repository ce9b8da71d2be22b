package httpadapter

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/document-verifier/internal/core/domain"
	"github.com/kirillkom/document-verifier/internal/infrastructure/export/xlsx"
)

type analysesResponse struct {
	Analyses []domain.AnalysisRecord `json:"analyses"`
}

func (rt *Router) listAnalyses(w http.ResponseWriter, r *http.Request) {
	var limit int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeError(w, http.StatusBadRequest, `Invalid value for "limit".`)
		return
	}
	if rt.history == nil {
		writeDomainError(w, domain.ErrTemporary)
		return
	}

	records, err := rt.history.ListRecent(r.Context(), sessionFromContext(r.Context()), limit)
	if err != nil {
		rt.logger.Error("history_list_failed", "request_id", requestIDFromContext(r.Context()), "error", err.Error())
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []domain.AnalysisRecord{}
	}
	writeJSON(w, http.StatusOK, analysesResponse{Analyses: records})
}

func bindAnalysisID(r *http.Request) (string, error) {
	var analysisID string
	err := runtime.BindStyledParameterWithOptions("simple", "analysis_id", r.PathValue("analysis_id"), &analysisID, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	return analysisID, err
}

// fetchReport writes the error or pending response itself and returns nil
// result in that case.
func (rt *Router) fetchReport(w http.ResponseWriter, r *http.Request) *domain.ReportResult {
	analysisID, err := bindAnalysisID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, `Invalid value for "analysis_id".`)
		return nil
	}

	result, err := rt.reports.Fetch(r.Context(), analysisID)
	if err != nil {
		rt.recordReport("error")
		rt.logger.Warn("report_fetch_failed",
			"request_id", requestIDFromContext(r.Context()),
			"analysis_id", analysisID,
			"error", err.Error(),
		)
		writeDomainError(w, err)
		return nil
	}
	if result.IsPending() {
		rt.recordReport("pending")
		writeJSON(w, http.StatusAccepted, result)
		return nil
	}
	if result.Degraded() {
		rt.recordReport("degraded")
	} else {
		rt.recordReport("report")
	}
	return result
}

func (rt *Router) getAnalysisReport(w http.ResponseWriter, r *http.Request) {
	if result := rt.fetchReport(w, r); result != nil {
		writeJSON(w, http.StatusOK, result)
	}
}

func (rt *Router) exportAnalysisReport(w http.ResponseWriter, r *http.Request) {
	result := rt.fetchReport(w, r)
	if result == nil {
		return
	}

	var buf bytes.Buffer
	if err := xlsx.Write(&buf, result); err != nil {
		rt.logger.Error("report_export_failed", "analysis_id", result.Report.AnalysisID, "error", err.Error())
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", xlsx.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="analysis-%s.xlsx"`, result.Report.AnalysisID))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

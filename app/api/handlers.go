package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/samwatch/app/alerts"
	"github.com/lysyi3m/samwatch/app/database"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// NewHandler wires the HTTP handlers. evaluator and jobs may be nil when the
// server runs without a scheduler.
func NewHandler(stats StatsInterface, opportunities database.OpportunityStore, runs database.RunStore,
	rules database.RuleStore, matches database.MatchStore, generator GeneratorInterface,
	evaluator EvaluatorInterface, jobs JobMetricsInterface, version string) *Handler {
	return &Handler{
		stats:         stats,
		opportunities: opportunities,
		runs:          runs,
		rules:         rules,
		matches:       matches,
		generator:     generator,
		evaluator:     evaluator,
		jobs:          jobs,
		version:       version,
	}
}

func (h *Handler) GetRuleFeed(c *gin.Context) {
	ruleID, ok := idParam(c)
	if !ok {
		c.Status(http.StatusBadRequest)
		return
	}

	rule, err := h.rules.GetRule(c.Request.Context(), ruleID)
	if err != nil {
		slog.Error("Database error", "operation", "get_rule", "rule_id", ruleID, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if rule == nil {
		c.Status(http.StatusNotFound)
		return
	}

	matches, err := h.matches.ListMatches(c.Request.Context(), ruleID, limitParam(c))
	if err != nil {
		slog.Error("Database error", "operation", "list_matches", "rule_id", ruleID, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	rss, err := h.generator.Run(*rule, matches)
	if err != nil {
		slog.Error("RSS generation error", "rule", rule.Name, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(matches)))
	c.Header("X-Rule-Name", rule.Name)
	c.String(http.StatusOK, rss)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	health := gin.H{
		"status":    "ok",
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"version":   h.version,
	}

	if _, err := h.stats.Counts(c.Request.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		health["status"] = "degraded"
		health["error"] = "database unavailable"
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	if h.jobs != nil {
		health["jobs"] = len(h.jobs.MetricsSnapshot())
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	counts, err := h.stats.Counts(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "counts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	stats := gin.H{"tables": counts}
	if h.jobs != nil {
		stats["jobs"] = h.jobs.MetricsSnapshot()
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ListRuns(c *gin.Context) {
	runs, err := h.runs.ListRuns(c.Request.Context(), limitParam(c))
	if err != nil {
		slog.Error("Database error", "operation", "list_runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	items := make([]gin.H, 0, len(runs))
	for _, run := range runs {
		items = append(items, runView(run))
	}
	c.JSON(http.StatusOK, gin.H{"runs": items, "total": len(items)})
}

func (h *Handler) GetRun(c *gin.Context) {
	runID, ok := idParam(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run id"})
		return
	}

	run, err := h.runs.GetRun(c.Request.Context(), runID)
	if err != nil {
		slog.Error("Database error", "operation", "get_run", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	c.JSON(http.StatusOK, runView(*run))
}

func (h *Handler) SearchOpportunities(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing q parameter"})
		return
	}

	results, err := h.opportunities.Search(c.Request.Context(), query, limitParam(c))
	if err != nil {
		slog.Warn("Search failed", "query", query, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Search failed", "details": err.Error()})
		return
	}

	items := make([]gin.H, 0, len(results))
	for _, r := range results {
		items = append(items, gin.H{
			"opportunity_id": r.OpportunityID,
			"notice_id":      r.NoticeID,
			"title":          r.Title,
			"agency":         r.Agency,
			"posted_at":      r.PostedAt,
			"snippet":        r.Snippet,
			"url":            alerts.ViewURL(r.NoticeID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": items, "total": len(items)})
}

func (h *Handler) GetOpportunity(c *gin.Context) {
	noticeID := c.Param("notice_id")

	details, err := h.opportunities.GetByNoticeID(c.Request.Context(), noticeID)
	if err != nil {
		slog.Error("Database error", "operation", "get_opportunity", "notice_id", noticeID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if details == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Opportunity not found"})
		return
	}

	c.JSON(http.StatusOK, opportunityView(details))
}

func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.rules.ListRules(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "list_rules", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	items := make([]gin.H, 0, len(rules))
	for _, rule := range rules {
		item := gin.H{
			"id":          rule.ID,
			"name":        rule.Name,
			"description": rule.Description,
			"kind":        rule.Kind,
			"definition":  rule.Definition,
			"is_active":   rule.IsActive,
			"updated_at":  rule.UpdatedAt,
		}
		if destinations, err := h.rules.ListAlerts(c.Request.Context(), rule.ID); err == nil {
			methods := make([]string, 0, len(destinations))
			for _, d := range destinations {
				methods = append(methods, d.DeliveryMethod)
			}
			item["destinations"] = methods
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"rules": items, "total": len(items)})
}

func (h *Handler) ListRuleMatches(c *gin.Context) {
	ruleID, ok := idParam(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule id"})
		return
	}

	rule, err := h.rules.GetRule(c.Request.Context(), ruleID)
	if err != nil {
		slog.Error("Database error", "operation", "get_rule", "rule_id", ruleID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if rule == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Rule not found"})
		return
	}

	matches, err := h.matches.ListMatches(c.Request.Context(), ruleID, limitParam(c))
	if err != nil {
		slog.Error("Database error", "operation", "list_matches", "rule_id", ruleID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	items := make([]gin.H, 0, len(matches))
	for _, m := range matches {
		items = append(items, gin.H{
			"opportunity_id":   m.OpportunityID,
			"notice_id":        m.NoticeID,
			"title":            m.Title,
			"agency":           m.Agency,
			"posted_at":        m.PostedAt,
			"first_matched_at": m.FirstMatchedAt,
			"matched_at":       m.MatchedAt,
			"payload":          m.Payload,
			"url":              alerts.ViewURL(m.NoticeID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rule": rule.Name, "matches": items, "total": len(items)})
}

func (h *Handler) EvaluateRules(c *gin.Context) {
	if h.evaluator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Rule evaluation is not available"})
		return
	}

	summary, err := h.evaluator.EvaluateRules(c.Request.Context())
	if err != nil {
		slog.Error("Rule evaluation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Rule evaluation failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"rules_evaluated":   summary.RulesEvaluated,
		"rules_failed":      summary.RulesFailed,
		"rules_skipped":     summary.RulesSkipped,
		"new_matches":       summary.NewMatches,
		"deliveries":        summary.Deliveries,
		"failed_deliveries": summary.FailedDeliveries,
	})
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func limitParam(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

func runView(run database.Run) gin.H {
	return gin.H{
		"id":            run.ID,
		"kind":          run.Kind,
		"status":        run.Status,
		"started_at":    run.StartedAt,
		"finished_at":   run.FinishedAt,
		"window_start":  run.WindowStart,
		"window_end":    run.WindowEnd,
		"error_message": run.ErrorMessage,
		"metrics":       run.Metrics,
	}
}

func opportunityView(d *database.OpportunityDetails) gin.H {
	awards := make([]gin.H, 0, len(d.Awards))
	for _, a := range d.Awards {
		awards = append(awards, gin.H{
			"type":        a.AwardType,
			"date":        a.Date,
			"description": a.Description,
			"amount":      a.Amount,
			"vendor_name": a.VendorName,
			"vendor_duns": a.VendorDUNS,
		})
	}

	contacts := make([]gin.H, 0, len(d.Contacts))
	for _, ct := range d.Contacts {
		contacts = append(contacts, gin.H{"name": ct.Name, "type": ct.Type, "email": ct.Email, "phone": ct.Phone})
	}

	attachments := make([]gin.H, 0, len(d.Attachments))
	for _, at := range d.Attachments {
		attachments = append(attachments, gin.H{
			"url":        at.URL,
			"file_name":  at.FileName,
			"local_path": at.LocalPath,
			"sha256":     at.SHA256,
			"bytes":      at.Bytes,
			"downloaded": at.Downloaded,
		})
	}

	view := gin.H{
		"id":                d.ID,
		"notice_id":         d.NoticeID,
		"title":             d.Title,
		"agency":            d.Agency,
		"sub_tier":          d.SubTier,
		"office":            d.Office,
		"notice_type":       d.NoticeType,
		"status":            d.Status,
		"posted_at":         d.PostedAt,
		"updated_at":        d.UpdatedAt,
		"response_deadline": d.ResponseDeadline,
		"naics_codes":       d.NAICSCodes,
		"set_aside":         d.SetAside,
		"digest":            d.Digest,
		"first_seen_at":     d.FirstSeenAt,
		"last_seen_at":      d.LastSeenAt,
		"last_changed_at":   d.LastChangedAt,
		"url":               alerts.ViewURL(d.NoticeID),
		"awards":            awards,
		"contacts":          contacts,
		"attachments":       attachments,
	}
	if d.Description != nil {
		view["description"] = d.Description.Body
	}
	return view
}

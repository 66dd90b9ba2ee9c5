package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/examroom/internal/auth"
	"github.com/victornm/examroom/internal/domain"
	"github.com/victornm/examroom/internal/errors"
	"github.com/victornm/examroom/internal/event"
	"github.com/victornm/examroom/internal/exam"
	"github.com/victornm/examroom/internal/export"
	"github.com/victornm/examroom/internal/query"
	"github.com/victornm/examroom/internal/results"
	"github.com/victornm/examroom/internal/submission"
)

type Config struct {
	Router       gin.IRouter
	EventBus     *event.Bus
	Auth         *auth.Authenticator
	Exams        *exam.Service
	Submissions  *submission.Service
	Query        *query.Service
	Results      *results.Service
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	es *exam.Service
	ss *submission.Service
	qs *query.Service
	rs *results.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		es:     c.Exams,
		ss:     c.Submissions,
		qs:     c.Query,
		rs:     c.Results,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	g := c.Router.Group("/exams", RenderErrors(), c.Auth.Middleware())
	g.POST("", a.CreateExam)
	g.GET("/my", a.MyExams)
	g.POST("/validate-code", a.ValidateCode)
	g.GET("/:id", a.GetExam)
	g.PUT("/:id", a.EditExam)
	g.DELETE("/:id", a.DeleteExam)
	g.POST("/:id/publish", a.PublishExam)
	g.POST("/:id/finish", a.FinishExam)
	g.GET("/:id/analysis", a.GetAnalysis)
	g.GET("/:id/results", a.GetResults)
	g.GET("/:id/export", a.ExportResults)
	g.POST("/:id/submit", a.Submit)
	g.POST("/:id/abandon", a.Abandon)

	// Register event handlers
	if a.redis != nil {
		c.EventBus.Subscribe(domain.EventNameResultsBoardUpdated, "api.pubsub", func(ctx context.Context, e event.Event) error {
			return a.PublishResultsUpdated(ctx, e.(domain.EventResultsBoardUpdated))
		})
	}

	return a
}

func (a *API) CreateExam(c *gin.Context) {
	var req domain.Definition
	if !bind(c, &req) {
		return
	}

	e, err := a.es.CreateExam(c.Request.Context(), exam.CreateExamRequest{
		Teacher:    identity(c),
		Definition: req,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, newExam(e))
}

func (a *API) MyExams(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}

	exams, err := a.qs.MyExams(c.Request.Context(), v)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := make([]ExamSummary, 0, len(exams))
	for _, e := range exams {
		resp = append(resp, newExamSummary(e))
	}

	c.JSON(http.StatusOK, gin.H{"exams": resp})
}

func (a *API) GetExam(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}

	e, err := a.qs.GetExamForViewer(c.Request.Context(), c.Param("id"), v)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, newExam(e))
}

func (a *API) EditExam(c *gin.Context) {
	var req domain.Definition
	if !bind(c, &req) {
		return
	}

	e, err := a.es.EditExam(c.Request.Context(), exam.EditExamRequest{
		Teacher:    identity(c),
		ExamID:     c.Param("id"),
		Definition: req,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, newExam(e))
}

func (a *API) DeleteExam(c *gin.Context) {
	err := a.es.DeleteExam(c.Request.Context(), exam.TransitionRequest{
		Teacher: identity(c),
		ExamID:  c.Param("id"),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *API) PublishExam(c *gin.Context) {
	a.transition(c, a.es.PublishExam)
}

func (a *API) FinishExam(c *gin.Context) {
	a.transition(c, a.es.FinishExam)
}

func (a *API) transition(c *gin.Context, fn func(context.Context, exam.TransitionRequest) (*domain.Exam, error)) {
	e, err := fn(c.Request.Context(), exam.TransitionRequest{
		Teacher: identity(c),
		ExamID:  c.Param("id"),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, newExam(e))
}

func (a *API) GetAnalysis(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}

	an, err := a.qs.Analysis(c.Request.Context(), c.Param("id"), v)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, an)
}

func (a *API) GetResults(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}

	e, err := a.qs.ExamForOwner(c.Request.Context(), c.Param("id"), v)
	if err != nil {
		_ = c.Error(err)
		return
	}

	b, err := a.rs.GetResults(c.Request.Context(), results.GetResultsRequest{
		ExamID:    e.ID,
		ExamOwner: e.CreatedBy,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, newResultsBoard(*b))
}

func (a *API) ExportResults(c *gin.Context) {
	v, ok := viewer(c)
	if !ok {
		return
	}

	e, err := a.qs.ExamForOwner(c.Request.Context(), c.Param("id"), v)
	if err != nil {
		_ = c.Error(err)
		return
	}

	b, err := export.Results(e, query.Analyze(e))
	if err != nil {
		_ = c.Error(errors.Internal(err))
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(e)+`"`)
	c.Data(http.StatusOK, export.ContentType, b)
}

type ValidateCodeRequest struct {
	Code string `json:"code"`
}

func (a *API) ValidateCode(c *gin.Context) {
	var req ValidateCodeRequest
	if !bind(c, &req) {
		return
	}

	v, ok := viewer(c)
	if !ok {
		return
	}

	id, err := a.qs.ValidateCode(c.Request.Context(), req.Code, v)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"exam_id": id})
}

type SubmitRequest struct {
	Answers []int `json:"answers"`
}

func (a *API) Submit(c *gin.Context) {
	var req SubmitRequest
	if !bind(c, &req) {
		return
	}

	sub, err := a.ss.Submit(c.Request.Context(), submission.SubmitRequest{
		ExamID:  c.Param("id"),
		Student: identity(c),
		Answers: req.Answers,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, newSubmission(*sub))
}

func (a *API) Abandon(c *gin.Context) {
	sub, err := a.ss.SubmitEmpty(c.Request.Context(), submission.SubmitEmptyRequest{
		ExamID:  c.Param("id"),
		Student: identity(c),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, newSubmission(*sub))
}

func identity(c *gin.Context) domain.Identity {
	id, _ := auth.Identity(c)
	return id
}

func viewer(c *gin.Context) (query.Viewer, bool) {
	v, err := query.NewViewer(identity(c))
	if err != nil {
		_ = c.Error(err)
		return nil, false
	}

	return v, true
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed request body: %v", err),
			errors.WithCause(err),
		))
		return false
	}

	return true
}

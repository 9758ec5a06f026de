package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"OpenIntent-Chain/internal/auth"
	"OpenIntent-Chain/internal/chain"
	"OpenIntent-Chain/internal/chain/provider"
	xerrors "OpenIntent-Chain/internal/errors"
	"OpenIntent-Chain/internal/intent"
	"OpenIntent-Chain/internal/intent/parser"
	"OpenIntent-Chain/internal/observability/metrics"
	"OpenIntent-Chain/internal/skill"
	"OpenIntent-Chain/internal/tokens"
	"OpenIntent-Chain/internal/workflow"
)

// Server 负责暴露 REST 接口，驱动意图编排与执行查询。
type Server struct {
	addr      string
	workflows *workflow.Service
	parser    parser.Parser
	chains    *provider.Registry
	skills    *skill.Registry
	auth      *auth.Service
}

// ServerOption 定义可选配置。
type ServerOption func(*Server)

// WithParser 接入自然语言意图解析服务。
func WithParser(p parser.Parser) ServerOption {
	return func(s *Server) {
		s.parser = p
	}
}

// WithChainRegistry 接入链客户端注册表，供 /v1/chains 查询。
func WithChainRegistry(registry *provider.Registry) ServerOption {
	return func(s *Server) {
		s.chains = registry
	}
}

// WithSkillRegistry 接入技能注册表，供 /v1/skills 查询。
func WithSkillRegistry(registry *skill.Registry) ServerOption {
	return func(s *Server) {
		s.skills = registry
	}
}

// WithAuth 开启静态令牌鉴权。
func WithAuth(service *auth.Service) ServerOption {
	return func(s *Server) {
		s.auth = service
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, workflows *workflow.Service, opts ...ServerOption) *Server {
	s := &Server{addr: addr, workflows: workflows}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回装配完成的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/intents", s.instrument("intents", s.handleCreateIntent))
	mux.Handle("POST /v1/workflows", s.instrument("workflows", s.handleCreateWorkflow))
	mux.Handle("POST /v1/workflows/{id}/execute", s.instrument("workflow_execute", s.handleExecuteWorkflow))
	mux.Handle("GET /v1/executions", s.instrument("executions", s.handleListExecutions))
	mux.Handle("GET /v1/executions/{id}", s.instrument("execution", s.handleGetExecution))
	mux.Handle("POST /v1/executions/{id}/cancel", s.instrument("execution_cancel", s.handleCancelExecution))
	mux.Handle("GET /v1/stats", s.instrument("stats", s.handleStats))
	mux.Handle("GET /v1/chains", s.instrument("chains", s.handleChains))
	mux.Handle("GET /v1/skills", s.instrument("skills", s.handleSkills))

	var handler http.Handler = mux
	if s.auth != nil {
		handler = s.auth.Middleware(handler)
	}

	// 健康检查与指标不经过鉴权。
	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	root.Handle("GET /metrics", metrics.Handler())
	root.Handle("/", handler)
	return root
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// createIntentRequest 既接受结构化意图，也接受自由文本。
type createIntentRequest struct {
	Text   string         `json:"text,omitempty"`
	Type   string         `json:"type,omitempty"`
	Params intent.Params  `json:"params"`
	Meta   map[string]any `json:"metadata,omitempty"`
}

type createIntentResponse struct {
	Intent    *intent.Intent      `json:"intent"`
	Plan      *workflow.Plan      `json:"plan"`
	Execution *workflow.Execution `json:"execution,omitempty"`
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "工作流服务未初始化"))
		return
	}
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}

	ctx := r.Context()
	var in *intent.Intent
	if text := strings.TrimSpace(req.Text); text != "" {
		if s.parser == nil {
			writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeParserFailure, "未配置意图解析服务"))
			return
		}
		parsed, err := s.parser.Parse(ctx, text)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		in = parsed
	} else {
		in = &intent.Intent{
			Type:     intent.NormalizeType(req.Type),
			Params:   req.Params,
			Metadata: intent.CloneMetadata(req.Meta),
		}
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt == 0 {
		in.CreatedAt = time.Now().UnixMilli()
	}

	plan, err := s.workflows.CreateWorkflow(ctx, in)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	resp := createIntentResponse{Intent: in, Plan: plan}
	if s.workflows.AutoExecute() {
		if execution, err := s.workflows.ExecutionForPlan(ctx, plan.ID); err == nil {
			resp.Execution = execution
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "工作流服务未初始化"))
		return
	}
	var in intent.Intent
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	in.Type = intent.NormalizeType(string(in.Type))
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt == 0 {
		in.CreatedAt = time.Now().UnixMilli()
	}

	plan, err := s.workflows.CreateWorkflow(r.Context(), &in)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "工作流服务未初始化"))
		return
	}
	execution, err := s.workflows.ExecuteWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, execution)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "工作流服务未初始化"))
		return
	}
	execution, err := s.workflows.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, execution)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "工作流服务未初始化"))
		return
	}
	cancelled, err := s.workflows.CancelExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.workflows == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "工作流服务未初始化"))
		return
	}
	var opts []workflow.ListOption
	query := r.URL.Query()
	if raw := query.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, workflow.WithLimit(limit))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, workflow.WithOffset(offset))
		}
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []workflow.ExecutionStatus
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, workflow.ExecutionStatus(strings.TrimSpace(part)))
		}
		opts = append(opts, workflow.WithStatuses(statuses...))
	}
	if raw := query.Get("intent_id"); raw != "" {
		opts = append(opts, workflow.WithIntentID(raw))
	}

	executions, err := s.workflows.ListExecutions(r.Context(), opts...)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	if executions == nil {
		executions = []*workflow.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": executions})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.workflows == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "工作流服务未初始化"))
		return
	}
	writeJSON(w, http.StatusOK, s.workflows.Stats())
}

// chainStatus 聚合链的静态定义与可选的实时快照。
type chainStatus struct {
	chain.Definition
	Snapshot *chain.Snapshot `json:"snapshot,omitempty"`
	RPCError string          `json:"rpc_error,omitempty"`
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	if s.chains == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "链注册表未初始化"))
		return
	}
	live := r.URL.Query().Get("live") == "true"
	defs := s.chains.Chains()
	statuses := make([]chainStatus, 0, len(defs))
	for _, def := range defs {
		status := chainStatus{Definition: def}
		if live {
			// 快照失败不拖垮整个列表，逐链记录错误。
			if client, err := s.chains.Client(def.ChainID); err != nil {
				status.RPCError = err.Error()
			} else if snapshot, err := client.FetchSnapshot(r.Context()); err != nil {
				status.RPCError = err.Error()
			} else {
				status.Snapshot = &snapshot
			}
		}
		statuses = append(statuses, status)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"default_chain_id": s.chains.DefaultChainID(),
		"chains":           statuses,
	})
}

func (s *Server) handleSkills(w http.ResponseWriter, _ *http.Request) {
	if s.skills == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeInitializationFailure, "技能注册表未初始化"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": s.skills.Names()})
}

// instrument 为处理器补充请求计数与耗时指标。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Code: string(xerrors.CodeOf(err)), Message: err.Error()}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

// statusForError 把统一错误码映射为 HTTP 状态码。
func statusForError(err error) int {
	switch xerrors.CodeOf(err) {
	case intent.CodeUnsupportedType, intent.CodeValidation, xerrors.CodeInvalidArgument,
		workflow.CodeCyclicDependency, workflow.CodeUnknownDependency:
		return http.StatusBadRequest
	case workflow.CodeWorkflowNotFound, workflow.CodeExecutionNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, workflow.CodeExecutionConflict, xerrors.CodeAlreadyTerminal:
		return http.StatusConflict
	case chain.CodeChainNotSupported, tokens.CodeUnknownToken, tokens.CodeTokenNotOnChain:
		return http.StatusBadRequest
	case workflow.CodeSimulationUnavailable:
		return http.StatusNotImplemented
	case xerrors.CodeParserFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"ExchangeMCP-Chain/internal/exchange"
)

// successCode 是成功结果在 code 标签上的取值。
const successCode = "OK"

type workflowKey struct {
	workflow string
	code     string
}

type requestKey struct {
	handler string
	method  string
	code    string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// Registry 收集工作流与 HTTP 传输层的指标，并以 Prometheus 文本格式输出。
type Registry struct {
	mu          sync.Mutex
	workflows   map[workflowKey]uint64
	approvals   map[string]uint64
	latency     map[string]*histogram
	requests    map[requestKey]uint64
	httpLatency map[string]*histogram
}

// NewRegistry 创建空的指标集合。
func NewRegistry() *Registry {
	return &Registry{
		workflows:   make(map[workflowKey]uint64),
		approvals:   make(map[string]uint64),
		latency:     make(map[string]*histogram),
		requests:    make(map[requestKey]uint64),
		httpLatency: make(map[string]*histogram),
	}
}

// Observe 实现 exchange.Observer：按工作流与错误码计数，并记录工作流耗时。
func (r *Registry) Observe(_ context.Context, outcome exchange.Outcome) {
	code := successCode
	if !outcome.Success {
		code = string(outcome.Code)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	workflow := string(outcome.Kind)
	r.workflows[workflowKey{workflow: workflow, code: code}]++
	if outcome.ApprovalTx() != "" {
		r.approvals[workflow]++
	}
	if outcome.Workflow != nil {
		observeInto(r.latency, workflow, outcome.Workflow.Duration())
	}
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func (r *Registry) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++
	observeInto(r.httpLatency, handler, duration)
}

func observeInto(set map[string]*histogram, key string, duration time.Duration) {
	hist := set[key]
	if hist == nil {
		hist = newHistogram()
		set[key] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	// 链上确认通常需要数秒到数十秒。
	buckets := []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

// Handler 以 Prometheus 文本格式暴露指标。
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, r.render())
	})
}

func (r *Registry) render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	b.Grow(2048)

	b.WriteString("# HELP exchange_mcp_workflows_total Total number of finished workflows by outcome code.\n")
	b.WriteString("# TYPE exchange_mcp_workflows_total counter\n")
	wfKeys := make([]workflowKey, 0, len(r.workflows))
	for key := range r.workflows {
		wfKeys = append(wfKeys, key)
	}
	sort.Slice(wfKeys, func(i, j int) bool {
		if wfKeys[i].workflow == wfKeys[j].workflow {
			return wfKeys[i].code < wfKeys[j].code
		}
		return wfKeys[i].workflow < wfKeys[j].workflow
	})
	for _, key := range wfKeys {
		fmt.Fprintf(&b, "exchange_mcp_workflows_total{workflow=\"%s\",code=\"%s\"} %d\n",
			escape(key.workflow), escape(key.code), r.workflows[key])
	}

	b.WriteString("# HELP exchange_mcp_approvals_total Token approvals submitted by workflows.\n")
	b.WriteString("# TYPE exchange_mcp_approvals_total counter\n")
	for _, workflow := range sortedKeys(r.approvals) {
		fmt.Fprintf(&b, "exchange_mcp_approvals_total{workflow=\"%s\"} %d\n", escape(workflow), r.approvals[workflow])
	}

	writeHistogram(&b, "exchange_mcp_workflow_duration_seconds", "Workflow duration from start to settlement in seconds.", "workflow", r.latency)

	b.WriteString("# HELP exchange_mcp_http_requests_total Total number of HTTP requests processed.\n")
	b.WriteString("# TYPE exchange_mcp_http_requests_total counter\n")
	reqKeys := make([]requestKey, 0, len(r.requests))
	for key := range r.requests {
		reqKeys = append(reqKeys, key)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].handler != reqKeys[j].handler {
			return reqKeys[i].handler < reqKeys[j].handler
		}
		if reqKeys[i].method != reqKeys[j].method {
			return reqKeys[i].method < reqKeys[j].method
		}
		return reqKeys[i].code < reqKeys[j].code
	})
	for _, key := range reqKeys {
		fmt.Fprintf(&b, "exchange_mcp_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(key.handler), escape(key.method), escape(key.code), r.requests[key])
	}

	writeHistogram(&b, "exchange_mcp_http_request_duration_seconds", "HTTP request duration in seconds.", "handler", r.httpLatency)
	return b.String()
}

func writeHistogram(b *strings.Builder, name, help, label string, set map[string]*histogram) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)
	for _, key := range sortedKeys(set) {
		hist := set[key]
		value := escape(key)
		for idx, bound := range hist.buckets {
			fmt.Fprintf(b, "%s_bucket{%s=\"%s\",le=\"%s\"} %d\n", name, label, value, formatFloat(bound), hist.counts[idx])
		}
		fmt.Fprintf(b, "%s_bucket{%s=\"%s\",le=\"+Inf\"} %d\n", name, label, value, hist.count)
		fmt.Fprintf(b, "%s_sum{%s=\"%s\"} %s\n", name, label, value, formatFloat(hist.sum))
		fmt.Fprintf(b, "%s_count{%s=\"%s\"} %d\n", name, label, value, hist.count)
	}
}

func sortedKeys[V any](set map[string]V) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

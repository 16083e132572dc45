// MockSubgraph 的子图测试桩实现。
//
// 基于 httptest.Server，支持固定数据、响应头、状态码、延迟注入与请求记录。
package mocks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/fedgateway/types"
)

// --- MockSubgraph 结构 ---

// MockSubgraph 是子图服务的模拟实现
type MockSubgraph struct {
	mu sync.RWMutex

	name   string
	server *httptest.Server

	// 响应配置
	data    map[string]any
	errors  []types.GraphQLError
	headers http.Header
	status  int
	rawBody string
	delay   time.Duration

	// 调用记录
	requests []RecordedRequest
}

// RecordedRequest 记录单次子图调用
type RecordedRequest struct {
	Header http.Header
	Body   types.GraphQLRequest
}

// --- 构造函数和 Builder 方法 ---

// NewMockSubgraph 创建并启动子图桩，测试结束自动关闭
func NewMockSubgraph(t testing.TB, name string) *MockSubgraph {
	m := &MockSubgraph{
		name:    name,
		data:    map[string]any{},
		headers: http.Header{},
		status:  http.StatusOK,
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.server.Close)
	return m
}

// WithData 设置根字段返回值
func (m *MockSubgraph) WithData(field string, value any) *MockSubgraph {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[field] = value
	return m
}

// WithErrors 设置返回的 GraphQL 错误
func (m *MockSubgraph) WithErrors(errs ...types.GraphQLError) *MockSubgraph {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, errs...)
	return m
}

// WithHeader 追加响应头
func (m *MockSubgraph) WithHeader(key, value string) *MockSubgraph {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headers.Add(key, value)
	return m
}

// WithStatus 设置 HTTP 状态码
func (m *MockSubgraph) WithStatus(code int) *MockSubgraph {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = code
	return m
}

// WithRawBody 设置原始响应体（覆盖 data/errors）
func (m *MockSubgraph) WithRawBody(body string) *MockSubgraph {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rawBody = body
	return m
}

// WithDelay 设置响应延迟
func (m *MockSubgraph) WithDelay(d time.Duration) *MockSubgraph {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// --- 访问方法 ---

// Name 返回子图名称
func (m *MockSubgraph) Name() string { return m.name }

// URL 返回子图地址
func (m *MockSubgraph) URL() string { return m.server.URL }

// Close 关闭桩服务
func (m *MockSubgraph) Close() { m.server.Close() }

// Requests 返回已记录的请求
func (m *MockSubgraph) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastRequest 返回最近一次请求
func (m *MockSubgraph) LastRequest() (RecordedRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requests) == 0 {
		return RecordedRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// CallCount 返回调用次数
func (m *MockSubgraph) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

func (m *MockSubgraph) serve(w http.ResponseWriter, r *http.Request) {
	var body types.GraphQLRequest
	_ = json.NewDecoder(r.Body).Decode(&body)

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{Header: r.Header.Clone(), Body: body})
	delay := m.delay
	status := m.status
	rawBody := m.rawBody
	headers := m.headers.Clone()
	payload := map[string]any{}
	if len(m.data) > 0 {
		data := make(map[string]any, len(m.data))
		for k, v := range m.data {
			data[k] = v
		}
		payload["data"] = data
	}
	if len(m.errors) > 0 {
		payload["errors"] = m.errors
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	for k, vs := range headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if rawBody != "" {
		_, _ = w.Write([]byte(rawBody))
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

package rag

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
	"time"
)

// QdrantOptions 初始化 Qdrant 向量存储的配置
type QdrantOptions struct {
	Endpoint        string
	APIKey          string
	Collection      string
	VectorDimension int
	Metric          DistanceMetric
	BatchSize       int
	TimeoutSeconds  int
	HTTPClient      *http.Client
}

// QdrantStore 基于 Qdrant HTTP API 的向量存储实现
type QdrantStore struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	collection string
	vectorSize int
	metric     DistanceMetric
	batchSize  int
	guard      collectionGuard
}

// NewQdrantStore 创建 Qdrant 向量存储实例，集合在首次使用时创建
func NewQdrantStore(opts QdrantOptions) (*QdrantStore, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(opts.Endpoint), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("qdrant endpoint 不能为空")
	}
	collection := opts.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	vectorSize := opts.VectorDimension
	if vectorSize <= 0 {
		vectorSize = DefaultDimension
	}
	metric := opts.Metric
	if metric == "" {
		metric = MetricCosine
	}
	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}

	return &QdrantStore{
		client:     client,
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		collection: collection,
		vectorSize: vectorSize,
		metric:     metric,
		batchSize:  opts.BatchSize,
	}, nil
}

// EnsureCollection 探测集合，不存在则创建并为 document_id 建 payload 索引
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	return s.guard.ensure(ctx, s.ensureCollection)
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	var info collectionInfoResponse
	err := s.doRequest(ctx, http.MethodGet, s.collectionPath(""), nil, &info)
	switch {
	case err == nil:
		if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != s.vectorSize {
			return fmt.Errorf("集合 %s 维度为 %d，与配置的 %d 不一致", s.collection, size, s.vectorSize)
		}
		return nil
	case !isQdrantStatus(err, http.StatusNotFound):
		return err
	}

	createReq := createCollectionRequest{
		Vectors: qdrantVectorParams{Size: s.vectorSize, Distance: s.qdrantDistance()},
	}
	if err := s.doRequest(ctx, http.MethodPut, s.collectionPath(""), createReq, nil); err != nil && !isQdrantAlreadyExists(err) {
		return err
	}

	indexReq := createIndexRequest{FieldName: "document_id", FieldSchema: "integer"}
	if err := s.doRequest(ctx, http.MethodPut, s.collectionPath("/index?wait=true"), indexReq, nil); err != nil && !isQdrantAlreadyExists(err) {
		return err
	}
	return nil
}

// Upsert 分批写入，payload 为 {document_id, chunk_index, content}
func (s *QdrantStore) Upsert(ctx context.Context, points []*Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := validatePoints(points, s.vectorSize); err != nil {
		return err
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}
	return upsertInBatches(ctx, points, s.batchSize, func(ctx context.Context, batch []*Point) error {
		req := upsertPointsRequest{Points: make([]qdrantPoint, len(batch))}
		for i, p := range batch {
			req.Points[i] = qdrantPoint{
				ID:     p.ChunkID,
				Vector: p.Vector,
				Payload: map[string]any{
					"document_id": p.DocumentID,
					"chunk_index": p.ChunkIndex,
					"content":     p.Content,
				},
			}
		}
		return s.doRequest(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil)
	})
}

// Search 相似度检索，Euclid 距离换算成相似度后统一降序
func (s *QdrantStore) Search(ctx context.Context, query []float32, topK int) ([]*RetrievalResult, error) {
	if err := validateQuery(query, s.vectorSize, topK); err != nil {
		return nil, err
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	req := searchRequest{Vector: query, Limit: topK, WithPayload: true}
	var resp searchResponse
	if err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, newError(ErrVectorStore, StageSearching, "qdrant search failed", err)
	}

	results := make([]*RetrievalResult, 0, len(resp.Result))
	for _, item := range resp.Result {
		score := item.Score
		if s.metric == MetricL2 {
			score = similarityFromDistance(score)
		}
		content, _ := item.Payload["content"].(string)
		results = append(results, &RetrievalResult{
			ChunkID:    toInt64(item.ID),
			DocumentID: toInt64(item.Payload["document_id"]),
			ChunkIndex: int(toInt64(item.Payload["chunk_index"])),
			Content:    content,
			Score:      score,
		})
	}
	sortBySimilarity(results)
	return results, nil
}

// DeleteByDocument 按 document_id 过滤删除
func (s *QdrantStore) DeleteByDocument(ctx context.Context, documentID int64) error {
	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}
	req := deletePointsRequest{Filter: matchFilter("document_id", documentID)}
	if err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil); err != nil {
		return newError(ErrVectorStore, "", "qdrant delete failed", err)
	}
	return nil
}

// Count 集合内的点数
func (s *QdrantStore) Count(ctx context.Context) (int64, error) {
	if err := s.EnsureCollection(ctx); err != nil {
		return 0, err
	}
	var resp countResponse
	if err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/count"), countRequest{Exact: true}, &resp); err != nil {
		return 0, newError(ErrVectorStore, "", "qdrant count failed", err)
	}
	return resp.Result.Count, nil
}

// --- 内部辅助 ---

func (s *QdrantStore) qdrantDistance() string {
	if s.metric == MetricL2 {
		return "Euclid"
	}
	return "Cosine"
}

func (s *QdrantStore) collectionPath(path string) string {
	return fmt.Sprintf("/collections/%s%s", url.PathEscape(s.collection), path)
}

// qdrantHTTPError 非 2xx 响应
type qdrantHTTPError struct {
	StatusCode int
	Message    string
}

func (e *qdrantHTTPError) Error() string {
	return fmt.Sprintf("qdrant API 错误 (%d): %s", e.StatusCode, e.Message)
}

func isQdrantStatus(err error, code int) bool {
	var he *qdrantHTTPError
	return errors.As(err, &he) && he.StatusCode == code
}

func isQdrantAlreadyExists(err error) bool {
	var he *qdrantHTTPError
	if !errors.As(err, &he) {
		return false
	}
	return he.StatusCode == http.StatusConflict || strings.Contains(strings.ToLower(he.Message), "already exists")
}

func (s *QdrantStore) doRequest(ctx context.Context, method, path string, payload any, dest any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &qdrantHTTPError{StatusCode: resp.StatusCode, Message: qdrantErrorMessage(raw)}
	}
	if dest == nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(dest)
}

// qdrantErrorMessage 错误体形如 {"status":{"error":"..."}}
func qdrantErrorMessage(raw []byte) string {
	var body struct {
		Status json.RawMessage `json:"status"`
	}
	if json.Unmarshal(raw, &body) == nil && len(body.Status) > 0 {
		var status struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body.Status, &status) == nil && status.Error != "" {
			return status.Error
		}
		var s string
		if json.Unmarshal(body.Status, &s) == nil && s != "" {
			return s
		}
	}
	return strings.TrimSpace(string(raw))
}

func matchFilter(key string, value any) *qdrantFilter {
	return &qdrantFilter{Must: []fieldCondition{{Key: key, Match: fieldMatch{Value: value}}}}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		f, _ := n.Float64()
		return int64(f)
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

// --- Qdrant API payloads ---

type qdrantVectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type createCollectionRequest struct {
	Vectors qdrantVectorParams `json:"vectors"`
}

type createIndexRequest struct {
	FieldName   string `json:"field_name"`
	FieldSchema string `json:"field_schema"`
}

type collectionInfoResponse struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors qdrantVectorParams `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

type qdrantPoint struct {
	ID      int64          `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type upsertPointsRequest struct {
	Points []qdrantPoint `json:"points"`
}

type fieldCondition struct {
	Key   string     `json:"key"`
	Match fieldMatch `json:"match"`
}

type fieldMatch struct {
	Value any `json:"value"`
}

type qdrantFilter struct {
	Must []fieldCondition `json:"must,omitempty"`
}

type deletePointsRequest struct {
	Filter *qdrantFilter `json:"filter,omitempty"`
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type searchResponse struct {
	Result []searchResultEntry `json:"result"`
}

type searchResultEntry struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type countRequest struct {
	Exact bool `json:"exact"`
}

type countResponse struct {
	Result struct {
		Count int64 `json:"count"`
	} `json:"result"`
}

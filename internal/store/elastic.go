package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/ashwinyue/claude-relay/internal/config"
	"github.com/ashwinyue/claude-relay/internal/model"
)

// ElasticStore Elasticsearch 会话文档存储
// 客户端在启动时创建一次。连接失败时 available 为 false：
// 读路径降级为空结果，写路径返回 ErrUnavailable。
type ElasticStore struct {
	client    *elasticsearch.Client
	index     string
	available bool
}

var _ ConversationStore = (*ElasticStore)(nil)

// NewElasticStore 创建 Elasticsearch 存储并初始化索引
// 连接失败不阻止进程启动，返回的存储处于不可用状态。
func NewElasticStore(cfg *config.Config) *ElasticStore {
	s := &ElasticStore{index: cfg.Elastic.ChatIndex}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Elastic.Host},
		Username:  cfg.Elastic.Username,
		Password:  cfg.Elastic.Password,
	})
	if err != nil {
		log.Printf("Failed to create elasticsearch client: %v", err)
		return s
	}

	res, err := client.Ping()
	if err != nil {
		log.Printf("Failed to ping elasticsearch: %v", err)
		return s
	}
	res.Body.Close()
	if res.IsError() {
		log.Printf("Elasticsearch ping returned error: %s", res.String())
		return s
	}

	s.client = client
	s.available = true

	if err := s.ensureIndex(context.Background()); err != nil {
		log.Printf("Failed to set up index %s: %v", s.index, err)
	}

	return s
}

// Available 存储是否可用
func (s *ElasticStore) Available() bool {
	return s.available
}

// ensureIndex 确保索引存在（如不存在则创建）
func (s *ElasticStore) ensureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.index})
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 200 {
		return nil // 索引已存在
	}

	mapping := map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   1,
			"number_of_replicas": 0,
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"session_id": map[string]interface{}{"type": "keyword"},
				"user_id":    map[string]interface{}{"type": "keyword"},
				"title":      map[string]interface{}{"type": "text"},
				"messages": map[string]interface{}{
					"type": "nested",
					"properties": map[string]interface{}{
						"id":        map[string]interface{}{"type": "keyword"},
						"role":      map[string]interface{}{"type": "keyword"},
						"content":   map[string]interface{}{"type": "text"},
						"timestamp": map[string]interface{}{"type": "date"},
					},
				},
				"created_at": map[string]interface{}{"type": "date"},
				"updated_at": map[string]interface{}{"type": "date"},
			},
		},
	}

	mappingData, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	req := esapi.IndicesCreateRequest{
		Index: s.index,
		Body:  bytes.NewReader(mappingData),
	}

	res, err = req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("failed to create index: %s", res.String())
	}

	log.Printf("Created index: %s", s.index)
	return nil
}

// Put 保存会话文档（全量覆盖）
func (s *ElasticStore) Put(ctx context.Context, conv *model.Conversation) error {
	if !s.available {
		return ErrUnavailable
	}

	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	res, err := s.client.Index(
		s.index,
		bytes.NewReader(data),
		s.client.Index.WithDocumentID(conv.SessionID),
		s.client.Index.WithRefresh("true"),
		s.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.String())
	}
	return nil
}

// Get 获取会话文档，不存在时返回 (nil, nil)
func (s *ElasticStore) Get(ctx context.Context, sessionID string) (*model.Conversation, error) {
	if !s.available {
		log.Printf("Elasticsearch unavailable, session %s treated as absent", sessionID)
		return nil, nil
	}

	res, err := s.client.Get(s.index, sessionID, s.client.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch error: %s", res.String())
	}

	var doc struct {
		Source model.Conversation `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &doc.Source, nil
}

// Patch 更新会话文档的部分字段
func (s *ElasticStore) Patch(ctx context.Context, sessionID string, fields map[string]interface{}) error {
	if !s.available {
		return ErrUnavailable
	}

	body, err := json.Marshal(map[string]interface{}{"doc": fields})
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}

	res, err := s.client.Update(
		s.index,
		sessionID,
		bytes.NewReader(body),
		s.client.Update.WithRefresh("true"),
		s.client.Update.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.String())
	}
	return nil
}

// Delete 删除会话文档，返回是否删除了存在的文档
func (s *ElasticStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	if !s.available {
		return false, ErrUnavailable
	}

	res, err := s.client.Delete(
		s.index,
		sessionID,
		s.client.Delete.WithRefresh("true"),
		s.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete conversation: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return false, nil
	}
	if res.IsError() {
		return false, fmt.Errorf("elasticsearch error: %s", res.String())
	}
	return true, nil
}

// QueryByOwner 查询用户的全部会话，按更新时间倒序
// 存储不可用时降级为空列表。
func (s *ElasticStore) QueryByOwner(ctx context.Context, userID string) ([]*model.Conversation, error) {
	if !s.available {
		log.Printf("Elasticsearch unavailable, returning empty session list for user %s", userID)
		return []*model.Conversation{}, nil
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"user_id": userID},
		},
		"sort": []map[string]interface{}{
			{"updated_at": map[string]interface{}{"order": "desc"}},
		},
		"size": 100,
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(body)),
		s.client.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search conversations: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch error: %s", res.String())
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source model.Conversation `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	conversations := make([]*model.Conversation, 0, len(result.Hits.Hits))
	for i := range result.Hits.Hits {
		conversations = append(conversations, &result.Hits.Hits[i].Source)
	}
	return conversations, nil
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// VectorStatusColumn 主表里字段级向量化状态的JSONB列名
const VectorStatusColumn = "_vector_status"

// VectorStatus 单字段向量化状态
type VectorStatus string

const (
	VectorStatusPending   VectorStatus = "pending"
	VectorStatusCompleted VectorStatus = "completed"
	VectorStatusFailed    VectorStatus = "vectorization_failed"
)

// Record 逻辑记录
// 物理上拆成一行关系数据、零或多个向量点、零或多个对象
type Record struct {
	ID           string                  `json:"id"`
	Collection   string                  `json:"collection"`
	Data         map[string]any          `json:"record"`
	FileURLs     map[string]string       `json:"files,omitempty"`
	VectorStatus map[string]VectorStatus `json:"vector_status,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// NewRecordID 生成记录ID
func NewRecordID() string {
	return uuid.New().String()
}

// FileInput 客户端提交的文件字段值（HTTP层从multipart还原）
type FileInput struct {
	FileName    string
	ContentType string
	Data        []byte
}

// BlobUpload 待上传对象
type BlobUpload struct {
	Field       string
	ObjectKey   string
	Data        []byte
	ContentType string
	FileName    string
}

// PendingVector 待向量化标记，由Router产出、Dispatcher消费
type PendingVector struct {
	Field string
	// Text 字符串/文本字段的直取值；文件字段留空，由提取器从原始字节取文本
	Text string
	// FileData 文件字段的原始内容
	FileData    []byte
	ContentType string
	// ChunkSize/ChunkOverlap 字段级或集合级生效值
	ChunkSize    int
	ChunkOverlap int
	// OCRIfNeeded 提取配置透传
	OCRIfNeeded bool
}

// ChildRow 数组字段的子表行
type ChildRow struct {
	Index  int
	Values map[string]any
}

// WriteSet Router产出的按存储拆分的待写集
// Router绝不直接落库，唯一写入者是Write Coordinator
type WriteSet struct {
	RecordID string
	Schema   *CollectionSchema
	// Row 关系行（store_in含relational的字段，已转为原生类型）
	Row map[string]any
	// ChildRows 数组字段名 -> 子表行
	ChildRows map[string][]ChildRow
	// Blobs 待上传对象
	Blobs []BlobUpload
	// Vectors 待向量化标记
	Vectors []PendingVector
	// PayloadBase 向量payload里携带的可过滤字段值
	PayloadBase map[string]any
}

// Chunk 派生实体：单个可嵌入的文本块，归属于(record, field)
// 源字段值变更时整组销毁重建，不做增量diff
type Chunk struct {
	RecordID string
	Field    string
	Index    int
	Text     string
	Vector   []float32
}

// PointID 向量点的确定性ID：uuid5(DNS, "record:field:index")
// 同一(记录,字段,块号)重复派发时ID稳定，天然幂等
func PointID(recordID, field string, index int) string {
	name := recordID + ":" + field + ":" + itoa(index)
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(name)).String()
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// VectorJob 派发给Dispatcher的向量化任务
// Generation 用于并发更新下的新旧替换，旧代任务被新代覆盖
type VectorJob struct {
	Collection  string
	RecordID    string
	Pending     PendingVector
	PayloadBase map[string]any
	ProviderID  string
	Generation  uint64
	EnqueuedAt  time.Time
}

// JobKey 任务串行化键
func (j *VectorJob) JobKey() string {
	return j.Collection + "/" + j.RecordID + "/" + j.Pending.Field
}

// VectorPoint 写入向量索引的点
type VectorPoint struct {
	ID         string
	Vector     []float32
	RecordID   string
	Field      string
	ChunkIndex int
	Text       string
	// Payload 可过滤字段值，检索时作为前置过滤条件
	Payload map[string]any
}

// ScoredPoint 向量检索命中
type ScoredPoint struct {
	ID         string
	Score      float32
	RecordID   string
	Field      string
	ChunkIndex int
	Text       string
}

// Highlight 语义命中的文本片段
type Highlight struct {
	Field      string  `json:"field"`
	Text       string  `json:"text"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float32 `json:"score"`
}

// SearchResult 单条排序结果
type SearchResult struct {
	ID         string            `json:"id"`
	Score      float32           `json:"score"`
	Record     map[string]any    `json:"record"`
	FileURLs   map[string]string `json:"files,omitempty"`
	Highlights []Highlight       `json:"highlights,omitempty"`
}

// RankedResults 混合检索响应
type RankedResults struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	TookMS  float64        `json:"took_ms"`
}

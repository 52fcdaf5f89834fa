package model

// FeatureVector 图像特征向量
type FeatureVector struct {
	SkinRatio         float64 `json:"skin_ratio"`
	ColorVariance     float64 `json:"color_variance"`
	EdgeDensity       float64 `json:"edge_density"`
	TextureComplexity float64 `json:"texture_complexity"`
	Complexity        float64 `json:"complexity"`
	HasHuman          bool    `json:"has_human"`
}

// Recommendation 档位推荐结果
type Recommendation struct {
	Features      FeatureVector `json:"features"`
	SuggestedTier string        `json:"suggested_tier"`
	Reason        string        `json:"reason"`
}

// CutoutRecord 抠图结果元数据
type CutoutRecord struct {
	MD5           string         `json:"md5"`
	Width         int            `json:"width"`
	Height        int            `json:"height"`
	TierRequested string         `json:"tier_requested"` // auto 或手动指定档位
	TierUsed      string         `json:"tier_used"`
	Degradations  []string       `json:"degradations,omitempty"`
	Features      *FeatureVector `json:"features,omitempty"`
	FileName      string         `json:"file_name"`
	Image         string         `json:"image"` // base64编码的PNG数据
	Timestamp     int64          `json:"timestamp"`
}

// BatchItem 批量处理中单个文件的结果
type BatchItem struct {
	FileName string        `json:"file_name"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Data     *CutoutRecord `json:"data,omitempty"`
}

// CutoutResponse 抠图响应
type CutoutResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Data    *CutoutRecord `json:"data,omitempty"`
}

// AnalyzeResponse 分析响应
type AnalyzeResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    *Recommendation `json:"data,omitempty"`
}

// BatchResponse 批量处理响应
type BatchResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Items   []BatchItem `json:"items"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

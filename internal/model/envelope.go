package model

// ResponseEnvelope はすべてのレスポンスに共通するJSON構造。
type ResponseEnvelope struct {
	Deal  *Deal        `json:"deal"`
	Error string       `json:"error,omitempty"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta はキャッシュ情報や件数などの付帯情報。
type ResponseMeta struct {
	Cache     CacheTTLs   `json:"cache"`
	CacheHits *CacheHits  `json:"cacheHits,omitempty"`
	Counts    *Counts     `json:"counts,omitempty"`
	Params    *EchoParams `json:"params,omitempty"`
}

// CacheTTLs は各取得元のキャッシュ有効期間（秒）。
type CacheTTLs struct {
	Deals int `json:"dealsTtl"`
	Steam int `json:"steamTtl"`
}

// CacheHits は各取得元がキャッシュから返されたかを表す。
type CacheHits struct {
	Deals bool `json:"deals"`
	Steam bool `json:"steam"`
}

// Counts は絞り込みの各段階の件数。
type Counts struct {
	Total    int `json:"total"`
	Filtered int `json:"filtered"`
	Owned    int `json:"owned"`
}

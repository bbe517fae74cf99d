package api

import "github.com/samcharles93/loraspect/internal/stats"

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// FileObject describes one uploaded adapter file.
type FileObject struct {
	ID            string   `json:"id"`
	Object        string   `json:"object"`
	Filename      string   `json:"filename"`
	Bytes         int      `json:"bytes"`
	CreatedAt     int64    `json:"created_at"`
	Loaded        bool     `json:"loaded"`
	LoadError     string   `json:"load_error,omitempty"`
	Format        string   `json:"format,omitempty"`
	NetworkModule string   `json:"network_module,omitempty"`
	NetworkType   string   `json:"network_type,omitempty"`
	Precision     string   `json:"precision,omitempty"`
	Dims          []int    `json:"dims,omitempty"`
	Alphas        []string `json:"alphas,omitempty"`
	Tensors       int      `json:"tensors"`
	BaseNames     int      `json:"base_names"`
}

type DeleteFileResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type MetadataResp struct {
	ID       string            `json:"id"`
	Object   string            `json:"object"`
	Present  bool              `json:"present"`
	Metadata map[string]string `json:"metadata"`
}

type BaseNamesResp struct {
	Object string   `json:"object"`
	Data   []string `json:"data"`
}

type WeightStatsResp struct {
	Object string `json:"object"`
	FileID string `json:"file_id"`
	Name   string `json:"name"`
	stats.WeightStatistics
}

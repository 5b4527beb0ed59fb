package entities

import (
	"time"
	"worker-asset-processing/constant"
)

type Asset struct {
	ID         string            `json:"id"`
	ProjectID  string            `json:"projectId,omitempty"`
	Title      string            `json:"title,omitempty"`
	FileName   string            `json:"fileName"`
	FileURL    string            `json:"fileUrl"`
	FileType   constant.FileType `json:"fileType"`
	MimeType   string            `json:"mimeType,omitempty"`
	Size       int64             `json:"size,omitempty"`
	Content    string            `json:"content,omitempty"`
	TokenCount int               `json:"tokenCount,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

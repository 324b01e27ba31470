package model

// AllModels 用于自动迁移的模型列表
var AllModels = []interface{}{
	&User{},
	&AuthToken{},
	&ChatSession{},
	&ChatMessage{},
}

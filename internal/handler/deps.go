package handler

import (
	"fanchat/internal/app/bridge"
	"fanchat/internal/app/chat"
	"fanchat/internal/configs"
)

// AppDeps are the collaborators of the chat-serving HTTP surface.
type AppDeps struct {
	Config     *configs.AppConfig
	Manager    *chat.Manager
	Dispatcher *bridge.Dispatcher
	Authorizer *bridge.Authorizer
}

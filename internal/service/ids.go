package service

import (
	"crypto/rand"
	"encoding/hex"
)

// newID 生成 16 字符的随机十六进制标识，
// 用于服务端分配的用户标识与连接标识。
func newID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic("service: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// NewConnID 为新升级的 WebSocket 连接分配连接标识。
func NewConnID() string { return newID() }

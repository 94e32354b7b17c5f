package service

import "strings"

// ActorRole 调用方角色，决定软关账期间能否记账
type ActorRole string

const (
	RoleAdmin      ActorRole = "FIS_ADMIN"
	RoleAccountant ActorRole = "FIS_ACCOUNTANT"
	RoleReader     ActorRole = "FIS_READER"
)

// ResolveActorRole 解析请求头中的角色，空值或未知值按记账员处理
func ResolveActorRole(header string) ActorRole {
	switch role := ActorRole(strings.ToUpper(strings.TrimSpace(header))); role {
	case RoleAdmin, RoleAccountant, RoleReader:
		return role
	default:
		return RoleAccountant
	}
}

// Package authz - клиентские проверки прав перед отправкой мутаций.
// Это не граница безопасности (хранилище проверяет права само), а способ
// не показывать недоступные действия и не делать лишних запросов.
package authz

import (
	"errors"

	"github.com/UkralStul/campus-sync/internal/domain"
)

// ErrDenied - действие запрещено; запрос в хранилище не отправлялся.
var ErrDenied = errors.New("action not permitted")

// CanAct - любое действие требует установленной личности.
func CanAct(actor domain.Actor) bool {
	return !actor.Anonymous()
}

// CanPost: владелец или любой, если сообщество разрешает посты участникам.
func CanPost(c domain.Community, actor domain.Actor) bool {
	if !CanAct(actor) {
		return false
	}
	return c.OwnerID == actor.ID || c.AllowMemberPosts
}

// CanKick: только владелец и никогда - самого владельца.
func CanKick(c domain.Community, actor domain.Actor, targetID string) bool {
	if !CanAct(actor) {
		return false
	}
	return c.OwnerID == actor.ID && targetID != c.OwnerID
}

func CanDelete(c domain.Community, actor domain.Actor) bool {
	return CanAct(actor) && c.OwnerID == actor.ID
}

// CanManage - изменение настроек сообщества (allowMemberPosts).
func CanManage(c domain.Community, actor domain.Actor) bool {
	return CanDelete(c, actor)
}

// CanLeave: участник, но не владелец - владелец удаляет сообщество, а не выходит.
func CanLeave(c domain.Community, actor domain.Actor) bool {
	if !CanAct(actor) {
		return false
	}
	return c.Members.Has(actor.ID) && actor.ID != c.OwnerID
}

func CanJoin(c domain.Community, actor domain.Actor) bool {
	return CanAct(actor) && !c.Members.Has(actor.ID)
}

func CanEditProfile(profileID string, actor domain.Actor) bool {
	return CanAct(actor) && profileID == actor.ID
}

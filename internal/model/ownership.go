package model

import (
	"encoding/json"
	"sort"
)

// OwnershipSet はユーザーが所有するSteamアプリIDの集合。
type OwnershipSet map[int]struct{}

// NewOwnershipSet は指定したアプリIDから集合を生成する。
func NewOwnershipSet(appIDs ...int) OwnershipSet {
	s := make(OwnershipSet, len(appIDs))
	for _, id := range appIDs {
		s[id] = struct{}{}
	}
	return s
}

// Has はアプリIDが集合に含まれるかを返す。
func (s OwnershipSet) Has(appID int) bool {
	_, ok := s[appID]
	return ok
}

// IDs は昇順に並べたアプリIDを返す。
func (s OwnershipSet) IDs() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// MarshalJSON は昇順の整数配列として出力する。
func (s OwnershipSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.IDs())
}

// UnmarshalJSON は整数配列から集合を復元する。
func (s *OwnershipSet) UnmarshalJSON(data []byte) error {
	var ids []int
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewOwnershipSet(ids...)
	return nil
}

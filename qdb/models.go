package qdb

import (
	"fmt"
	"sort"
)

// RecoveryRecord is written for every prepared transaction before the
// coordinator commits locally. It outlives a coordinator crash.
type RecoveryRecord struct {
	GroupID  int32  `json:"group_id"`
	GID      string `json:"gid"`
	TxID     string `json:"tx_id"`
	NodeHost string `json:"node_host"`
	NodePort int    `json:"node_port"`
}

func (r *RecoveryRecord) Key() string {
	return recordKey(r.GroupID, r.GID)
}

func recordKey(groupID int32, gid string) string {
	return fmt.Sprintf("%d/%s", groupID, gid)
}

func sortRecords(records []*RecoveryRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].GroupID != records[j].GroupID {
			return records[i].GroupID < records[j].GroupID
		}
		return records[i].GID < records[j].GID
	})
}

// CommitDecision marks that the local transaction of TxID committed.
type CommitDecision struct {
	TxID string `json:"tx_id"`
}

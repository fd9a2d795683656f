package deparse

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/pg-sharding/ddlcoord/pkg/catalog"
)

const (
	ShardNameSeparator = '_'
	// NameDataLen mirrors PostgreSQL's NAMEDATALEN; identifiers keep at most NameDataLen-1 bytes.
	NameDataLen = 64

	applyShardDDLCommand      = "SELECT worker_apply_shard_ddl_command (%d, %s, %s)"
	applyInterShardDDLCommand = "SELECT worker_apply_inter_shard_ddl_command (%d, %s, %d, %s, %s)"
	lockRelationIfExists      = "SELECT lock_relation_if_exists(%s, %s);"
	detachPartitionCommand    = "ALTER TABLE IF EXISTS %s DETACH PARTITION %s;"

	DisableDDLPropagation = "SET citus.enable_ddl_propagation TO 'off'"
)

// clipBytes cuts s to at most n bytes without splitting a character.
func clipBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// AppendShardIDToName builds the physical shard name the way workers do.
// Names that would not fit into an identifier are clipped and disambiguated
// with the server's hash of the full name.
func AppendShardIDToName(name string, shardID catalog.ShardID) string {
	suffix := string(ShardNameSeparator) + strconv.FormatUint(uint64(shardID), 10)
	if len(name)+len(suffix) < NameDataLen {
		return name + suffix
	}

	hash := hashBytes([]byte(name))
	clipped := clipBytes(name, NameDataLen-len(suffix)-10)
	return fmt.Sprintf("%s%c%08x%s", clipped, ShardNameSeparator, hash, suffix)
}

// QualifiedShardName is the quoted schema-qualified physical shard name.
func QualifiedShardName(schema, name string, shardID catalog.ShardID) string {
	return QuoteQualifiedIdentifier(schema, AppendShardIDToName(name, shardID))
}

// ApplyShardDDLCommand wraps command so that the worker rewrites relation
// names to the shard's names before executing it.
func ApplyShardDDLCommand(shardID catalog.ShardID, schema string, command string) string {
	return fmt.Sprintf(applyShardDDLCommand, uint64(shardID), QuoteLiteral(schema), QuoteLiteral(command))
}

func ApplyInterShardDDLCommand(left catalog.ShardID, leftSchema string, right catalog.ShardID, rightSchema string, command string) string {
	return fmt.Sprintf(applyInterShardDDLCommand,
		uint64(left), QuoteLiteral(leftSchema),
		uint64(right), QuoteLiteral(rightSchema),
		QuoteLiteral(command))
}

func LockRelationIfExistsCommand(schema, name, lockMode string) string {
	return fmt.Sprintf(lockRelationIfExists,
		QuoteLiteral(QuoteQualifiedIdentifier(schema, name)), QuoteLiteral(lockMode))
}

func DetachPartitionCommand(parentSchema, parentName, schema, name string) string {
	return fmt.Sprintf(detachPartitionCommand,
		QuoteQualifiedIdentifier(parentSchema, parentName), QuoteQualifiedIdentifier(schema, name))
}

func TruncateShardCommand(schema, name string, shardID catalog.ShardID, cascade bool) string {
	cmd := "TRUNCATE TABLE " + QualifiedShardName(schema, name, shardID)
	if cascade {
		cmd += " CASCADE"
	}
	return cmd
}

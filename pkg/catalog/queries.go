package catalog

const (
	queryRelationInSchema = `
		SELECT c.oid
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r', 'p', 'f')`

	queryRelationAnySchema = `
		SELECT c.oid
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relname = $1 AND c.relkind IN ('r', 'p', 'f')
		  AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')`

	queryIndexInSchema = `
		SELECT i.indrelid
		FROM pg_index i
		JOIN pg_class ic ON ic.oid = i.indexrelid
		JOIN pg_namespace n ON n.oid = ic.relnamespace
		WHERE n.nspname = $1 AND ic.relname = $2`

	queryIndexAnySchema = `
		SELECT i.indrelid
		FROM pg_index i
		JOIN pg_class ic ON ic.oid = i.indexrelid
		JOIN pg_namespace n ON n.oid = ic.relnamespace
		WHERE ic.relname = $1
		  AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')`

	queryRelation = `
		SELECT c.oid, n.nspname, c.relname, c.relkind::text,
			   p.logicalrelid IS NOT NULL,
			   coalesce(p.partmethod::text, ''),
			   coalesce(column_to_column_name(p.logicalrelid, p.partkey), ''),
			   coalesce(p.colocationid, 0),
			   coalesce(p.repmodel::text, ''),
			   coalesce(inh.inhparent, 0)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_dist_partition p ON p.logicalrelid = c.oid
		LEFT JOIN pg_inherits inh ON inh.inhrelid = c.oid AND c.relispartition
		WHERE c.oid = $1`

	queryReplicationFactor = `
		SELECT count(*)
		FROM pg_dist_placement
		WHERE shardid = (SELECT min(shardid) FROM pg_dist_shard WHERE logicalrelid = $1)`

	queryIndexes = `
		SELECT ic.relname, i.indisunique, i.indisexclusion,
			   array(SELECT a.attname
					 FROM unnest(i.indkey::int2[]) WITH ORDINALITY k(attnum, ord)
					 JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum
					 ORDER BY k.ord)::text[],
			   coalesce(array(SELECT o.oprname = '='
							  FROM unnest(con.conexclop) WITH ORDINALITY e(op, ord)
							  JOIN pg_operator o ON o.oid = e.op
							  ORDER BY e.ord), '{}')::bool[]
		FROM pg_index i
		JOIN pg_class ic ON ic.oid = i.indexrelid
		LEFT JOIN pg_constraint con ON con.conindid = i.indexrelid AND con.contype = 'x'
		WHERE i.indrelid = $1
		ORDER BY ic.relname`

	queryRelationsInSchema = `
		SELECT c.oid
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relkind IN ('r', 'p', 'f')
		ORDER BY c.oid`

	queryPartitions = `
		SELECT inhrelid
		FROM pg_inherits
		WHERE inhparent = $1
		ORDER BY inhrelid`

	queryShardIntervals = `
		SELECT shardid, coalesce(shardminvalue, ''), coalesce(shardmaxvalue, '')
		FROM pg_dist_shard
		WHERE logicalrelid = $1
		ORDER BY shardid`

	queryActivePlacements = `
		SELECT p.placementid, p.shardid, p.groupid, n.nodename, n.nodeport, p.shardstate
		FROM pg_dist_placement p
		JOIN pg_dist_node n ON n.groupid = p.groupid AND n.noderole = 'primary'
		WHERE p.shardid = $1 AND p.shardstate = 1
		ORDER BY p.placementid`

	queryForeignKeys = `
		SELECT con.conname, con.conrelid, con.confrelid,
			   array(SELECT a.attname
					 FROM unnest(con.conkey) WITH ORDINALITY k(attnum, ord)
					 JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
					 ORDER BY k.ord)::text[],
			   array(SELECT a.attname
					 FROM unnest(con.confkey) WITH ORDINALITY k(attnum, ord)
					 JOIN pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum
					 ORDER BY k.ord)::text[]
		FROM pg_constraint con
		WHERE con.contype = 'f'
		  AND con.conrelid IN (SELECT logicalrelid FROM pg_dist_partition)
		  AND con.confrelid IN (SELECT logicalrelid FROM pg_dist_partition)
		ORDER BY con.conrelid, con.conname`

	queryActivePrimaryNodes = `
		SELECT nodeid, groupid, nodename, nodeport, hasmetadata, isactive
		FROM pg_dist_node
		WHERE isactive AND noderole = 'primary'
		ORDER BY groupid, nodename, nodeport`

	queryLocalGroupID = `SELECT groupid FROM pg_dist_local_group`

	queryCreateDistributedTable = `
		SELECT create_distributed_table($1::oid::regclass, $2, $3, colocate_with => $4)`

	queryCommitMarkerExists = `SELECT EXISTS (SELECT 1 FROM pg_dist_commit_marker WHERE txid = $1)`

	queryDeleteCommitMarker = `DELETE FROM pg_dist_commit_marker WHERE txid = $1`
)

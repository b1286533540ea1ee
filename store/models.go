package store

// Relational schema: nine tables mirrored across the embedded and server
// engines. Index names are fixed so migrations stay idempotent.

type projectRow struct {
	ID int64 `gorm:"primaryKey;autoIncrement"`
}

func (projectRow) TableName() string { return "projects" }

type specificationRow struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	Project       int64  `gorm:"not null;index:idx_specifications_project_created,priority:1"`
	Created       int64  `gorm:"not null;index:idx_specifications_project_created,priority:2"`
	Hash          string `gorm:"not null"`
	Specification string `gorm:"not null"`
}

func (specificationRow) TableName() string { return "specifications" }

type datasetRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Project   int64  `gorm:"not null;index:idx_datasets_project_dataset_id_created,priority:1"`
	Created   int64  `gorm:"not null;index:idx_datasets_project_dataset_id_created,priority:3"`
	DatasetID string `gorm:"column:dataset_id;not null;index:idx_datasets_project_dataset_id_created,priority:2"`
	Hash      string `gorm:"not null"`
}

func (datasetRow) TableName() string { return "datasets" }

type datasetPointRow struct {
	ID   int64  `gorm:"primaryKey;autoIncrement"`
	Hash string `gorm:"not null;uniqueIndex:idx_datasets_points_hash"`
	JSON string `gorm:"column:json;not null"`
}

func (datasetPointRow) TableName() string { return "datasets_points" }

type datasetJoinRow struct {
	ID       int64 `gorm:"primaryKey;autoIncrement"`
	Dataset  int64 `gorm:"not null;index:idx_datasets_joins,priority:1"`
	Point    int64 `gorm:"not null;index:idx_datasets_joins,priority:2"`
	PointIdx int64 `gorm:"column:point_idx;not null"`
}

func (datasetJoinRow) TableName() string { return "datasets_joins" }

type runRow struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Project    int64  `gorm:"not null;index:idx_runs_project_created,priority:1"`
	Created    int64  `gorm:"not null;index:idx_runs_project_created,priority:2"`
	RunID      string `gorm:"column:run_id;not null;uniqueIndex:idx_runs_id"`
	AppHash    string `gorm:"column:app_hash;not null"`
	ConfigJSON string `gorm:"column:config_json;not null"`
	StatusJSON string `gorm:"column:status_json;not null"`
}

func (runRow) TableName() string { return "runs" }

type blockExecutionRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Hash      string `gorm:"not null;uniqueIndex:idx_block_executions_hash"`
	Execution string `gorm:"not null"`
}

func (blockExecutionRow) TableName() string { return "block_executions" }

type runJoinRow struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	Run            int64  `gorm:"not null;index:idx_runs_joins,priority:1"`
	BlockIdx       int64  `gorm:"column:block_idx;not null"`
	BlockType      string `gorm:"column:block_type;not null"`
	BlockName      string `gorm:"column:block_name;not null"`
	InputIdx       int64  `gorm:"column:input_idx;not null"`
	MapIdx         int64  `gorm:"column:map_idx;not null"`
	BlockExecution int64  `gorm:"column:block_execution;not null;index:idx_runs_joins,priority:2"`
}

func (runJoinRow) TableName() string { return "runs_joins" }

type cacheRow struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	Project  int64  `gorm:"not null;index:idx_cache_project_hash,priority:1"`
	Created  int64  `gorm:"not null"`
	Hash     string `gorm:"not null;uniqueIndex:idx_cache_hash;index:idx_cache_project_hash,priority:2"`
	Request  string `gorm:"not null"`
	Response string `gorm:"not null"`
}

func (cacheRow) TableName() string { return "cache" }

func allModels() []interface{} {
	return []interface{}{
		&projectRow{},
		&specificationRow{},
		&datasetRow{},
		&datasetPointRow{},
		&datasetJoinRow{},
		&runRow{},
		&blockExecutionRow{},
		&runJoinRow{},
		&cacheRow{},
	}
}

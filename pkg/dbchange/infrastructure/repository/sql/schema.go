package sql

import (
	"time"
)

// JobExecutionEntity is the persisted form of model.JobExecution.
type JobExecutionEntity struct {
	ID            string `gorm:"column:id;primaryKey"`
	SourceID      int64  `gorm:"column:source_id"`
	SourceType    string `gorm:"column:source_type"`
	SourceSubType string `gorm:"column:source_sub_type"`
	Payload       string `gorm:"column:payload"`
	Status        string `gorm:"column:status"`
	Attempt       int    `gorm:"column:attempt"`
	// Failure is the JSON form of model.Failure.
	Failure       *string    `gorm:"column:failure"`
	CreateTime    time.Time  `gorm:"column:create_time"`
	StartTime     *time.Time `gorm:"column:start_time"`
	EndTime       *time.Time `gorm:"column:end_time"`
	LastHeartbeat *time.Time `gorm:"column:last_heartbeat"`
	Version       int        `gorm:"column:version"`
}

func (JobExecutionEntity) TableName() string {
	return "undertow_job_execution"
}

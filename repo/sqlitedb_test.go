package repo

import (
	"errors"
	"testing"
	"time"

	"github.com/Itwoss/pulse/models"
	"github.com/jinzhu/gorm"
)

func TestSqliteDB_Update(t *testing.T) {
	sdb, err := MockDB()
	if err != nil {
		t.Fatal(err)
	}
	defer sdb.Close()

	err = sdb.Update(func(tx *gorm.DB) error {
		return tx.Save(&models.NotificationRecord{ID: "abc", Timestamp: time.Now()}).Error
	})
	if err != nil {
		t.Error(err)
	}

	var records []models.NotificationRecord
	err = sdb.View(func(tx *gorm.DB) error {
		return tx.Find(&records).Error
	})
	if err != nil && !gorm.IsRecordNotFoundError(err) {
		t.Fatal(err)
	}

	if len(records) != 1 {
		t.Error("Db update failed to save record.")
	}

	err = sdb.Update(func(tx *gorm.DB) error {
		if err := tx.Save(&models.NotificationRecord{ID: "def", Timestamp: time.Now()}).Error; err != nil {
			t.Fatal(err)
		}
		return errors.New("atomic update failure")
	})
	if err == nil {
		t.Error("Update function did not return error")
	}

	var records2 []models.NotificationRecord
	err = sdb.View(func(tx *gorm.DB) error {
		return tx.Find(&records2).Error
	})
	if err != nil && !gorm.IsRecordNotFoundError(err) {
		t.Fatal(err)
	}

	if len(records2) != 1 {
		t.Error("Db update failed to roll back.")
	}
}

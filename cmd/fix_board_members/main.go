package main

import (
	"log"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"clinic-backend/internal/database"
	"clinic-backend/internal/model"
)

// boardMember board_members 조인 테이블 행
type boardMember struct {
	BoardID string `gorm:"column:board_id"`
	UserID  int64  `gorm:"column:user_id"`
}

func (boardMember) TableName() string {
	return "board_members"
}

func main() {
	// Load environment variables
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Connect to database
	db, err := database.ConnectDB()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	log.Println("Database connected. Ensuring every board creator is a board member...")

	var added int64
	err = db.Transaction(func(tx *gorm.DB) error {
		// 1. Find boards whose creator is missing from board_members
		var missing []boardMember
		if err := tx.Model(&model.Board{}).
			Select("boards.id AS board_id, boards.created_by AS user_id").
			Joins("LEFT JOIN board_members bm ON bm.board_id = boards.id AND bm.user_id = boards.created_by").
			Where("bm.user_id IS NULL").
			Scan(&missing).Error; err != nil {
			return err
		}

		log.Printf("Found %d boards without their creator as member.\n", len(missing))
		if len(missing) == 0 {
			return nil
		}

		// 2. Insert the missing rows
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&missing)
		if result.Error != nil {
			return result.Error
		}
		added = result.RowsAffected

		for _, m := range missing {
			log.Printf("Added user %d to board %s\n", m.UserID, m.BoardID)
		}
		return nil
	})

	if err != nil {
		log.Fatalf("Failed to fix board members: %v", err)
	}

	log.Printf("Board members successfully updated (%d rows added).", added)
}

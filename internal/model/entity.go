package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User 사용자
type User struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email      string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Nickname   string    `gorm:"type:varchar(100);not null" json:"nickname"`
	Firstname  *string   `gorm:"type:varchar(100)" json:"firstname,omitempty"`
	Lastname   *string   `gorm:"type:varchar(100)" json:"lastname,omitempty"`
	Role       UserRole  `gorm:"type:varchar(20);default:'employee'" json:"role"`
	ProfileImg *string   `gorm:"type:text" json:"profile_img,omitempty"`
	Provider   *string   `gorm:"type:varchar(50)" json:"provider,omitempty"`
	ProviderID *string   `gorm:"type:varchar(255)" json:"provider_id,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Clinics []ClinicMember `gorm:"foreignKey:UserID" json:"clinics,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// Clinic 클리닉
type Clinic struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(200);not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Members    []ClinicMember `gorm:"foreignKey:ClinicID" json:"members,omitempty"`
	Procedures []Procedure    `gorm:"foreignKey:ClinicID" json:"procedures,omitempty"`
}

func (Clinic) TableName() string {
	return "clinics"
}

// ClinicMember 클리닉 배정 사용자
type ClinicMember struct {
	ID       int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ClinicID int64     `gorm:"not null;uniqueIndex:idx_clinic_member" json:"clinic_id"`
	UserID   int64     `gorm:"not null;uniqueIndex:idx_clinic_member" json:"user_id"`
	Status   string    `gorm:"type:varchar(20);default:'ACTIVE'" json:"status"` // PENDING, ACTIVE
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`

	// Relations
	Clinic Clinic `gorm:"foreignKey:ClinicID" json:"clinic,omitempty"`
	User   User   `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (ClinicMember) TableName() string {
	return "clinic_members"
}

// Procedure 클리닉 시술/업무 절차
type Procedure struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ClinicID  int64     `gorm:"not null;index" json:"clinic_id"`
	Name      string    `gorm:"type:varchar(200);not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Procedure) TableName() string {
	return "procedures"
}

// Board 화이트보드 (요소는 JSON 배열로 보관, 삭제 요소(tombstone) 포함)
type Board struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	ClinicID    int64             `gorm:"not null;index" json:"clinic_id"`
	ProcedureID int64             `gorm:"not null;index" json:"procedure_id"`
	Name        string            `gorm:"type:varchar(100);not null" json:"name"`
	Description *string           `gorm:"type:varchar(500)" json:"description,omitempty"`
	Elements    datatypes.JSON    `gorm:"type:jsonb;not null;default:'[]'" json:"elements"`
	AppState    datatypes.JSONMap `gorm:"type:jsonb" json:"appState"`
	Files       datatypes.JSONMap `gorm:"type:jsonb" json:"files"`
	CreatedBy   int64             `gorm:"not null" json:"created_by"`
	UpdatedBy   *int64            `json:"updated_by,omitempty"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Procedure *Procedure `gorm:"foreignKey:ProcedureID" json:"procedure,omitempty"`
	Creator   *User      `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
	Editor    *User      `gorm:"foreignKey:UpdatedBy" json:"editor,omitempty"`
	Members   []User     `gorm:"many2many:board_members;" json:"members,omitempty"`
}

func (Board) TableName() string {
	return "boards"
}

// BeforeCreate 보드 UUID 발급
func (b *Board) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if len(b.Elements) == 0 {
		b.Elements = datatypes.JSON("[]")
	}
	return nil
}

// HasMember 보드 멤버 여부 (Members가 로드된 경우)
func (b *Board) HasMember(userID int64) bool {
	for _, m := range b.Members {
		if m.ID == userID {
			return true
		}
	}
	return false
}

// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import "time"

// migrateModels is the list of model types auto-migrated at open
var migrateModels = []any{
	&Proposal{},
	&UserStake{},
	&Action{},
}

// Proposal is one cached proposal row. Amounts are stored as decimal
// strings since sqlite has no integer type wide enough for 18-decimal
// base units.
type Proposal struct {
	ID          uint `gorm:"primarykey"`
	Idx         int  `gorm:"uniqueIndex"`
	Title       string
	Description string
	TotalStaked string
	Active      bool
	CreatedAt   time.Time
}

func (Proposal) TableName() string {
	return "proposal"
}

// UserStake is the acting user's cached stake on one proposal
type UserStake struct {
	ID     uint `gorm:"primarykey"`
	Idx    int  `gorm:"uniqueIndex"`
	Amount string
}

func (UserStake) TableName() string {
	return "user_stake"
}

// Action is one confirmed ledger action in the session journal
type Action struct {
	ID         uint   `gorm:"primarykey"`
	Kind       string `gorm:"index"`
	Idx        int
	Amount     string
	TxHash     string
	OccurredAt time.Time
}

func (Action) TableName() string {
	return "action"
}

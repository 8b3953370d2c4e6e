package store

import (
	"github.com/google/uuid"

	"eloqua-sms-bridge/internal/models"
)

// Action instances -----------------------------------------------------------

// CreateActionInstance registers a new action step. The platform supplies the
// instance id at create time; an empty id gets a generated one.
func (s *Store) CreateActionInstance(installID, siteID, instanceID string) (*models.ActionInstance, error) {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	inst := &models.ActionInstance{
		InstanceID:            instanceID,
		InstallID:             installID,
		SiteID:                siteID,
		RequiresConfiguration: true,
	}
	if err := s.db.Create(inst).Error; err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Store) ActionInstance(instanceID string) (*models.ActionInstance, error) {
	var inst models.ActionInstance
	err := s.db.Where("instance_id = ? AND is_deleted = ?", instanceID, false).First(&inst).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &inst, nil
}

func (s *Store) SaveActionInstance(inst *models.ActionInstance) error {
	return s.db.Save(inst).Error
}

// CopyActionInstance deep-copies the configuration under a new instance id.
// The copy always starts unconfigured.
func (s *Store) CopyActionInstance(instanceID string) (*models.ActionInstance, error) {
	src, err := s.ActionInstance(instanceID)
	if err != nil {
		return nil, err
	}
	dup := *src
	dup.ID = 0
	dup.InstanceID = uuid.NewString()
	dup.RequiresConfiguration = true
	if err := s.db.Create(&dup).Error; err != nil {
		return nil, err
	}
	return &dup, nil
}

func (s *Store) DeleteActionInstance(instanceID string) error {
	res := s.db.Model(&models.ActionInstance{}).
		Where("instance_id = ?", instanceID).
		Update("is_deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Decision instances ---------------------------------------------------------

func (s *Store) CreateDecisionInstance(installID, siteID, instanceID string) (*models.DecisionInstance, error) {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	inst := &models.DecisionInstance{
		InstanceID:            instanceID,
		InstallID:             installID,
		SiteID:                siteID,
		MatchMode:             models.MatchAnything,
		EvaluationWindowHours: 24,
		RequiresConfiguration: true,
	}
	if err := s.db.Create(inst).Error; err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Store) DecisionInstance(instanceID string) (*models.DecisionInstance, error) {
	var inst models.DecisionInstance
	err := s.db.Where("instance_id = ? AND is_deleted = ?", instanceID, false).First(&inst).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &inst, nil
}

func (s *Store) SaveDecisionInstance(inst *models.DecisionInstance) error {
	return s.db.Save(inst).Error
}

func (s *Store) CopyDecisionInstance(instanceID string) (*models.DecisionInstance, error) {
	src, err := s.DecisionInstance(instanceID)
	if err != nil {
		return nil, err
	}
	dup := *src
	dup.ID = 0
	dup.InstanceID = uuid.NewString()
	dup.RequiresConfiguration = true
	if err := s.db.Create(&dup).Error; err != nil {
		return nil, err
	}
	return &dup, nil
}

func (s *Store) DeleteDecisionInstance(instanceID string) error {
	res := s.db.Model(&models.DecisionInstance{}).
		Where("instance_id = ?", instanceID).
		Update("is_deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Feeder instances -----------------------------------------------------------

func (s *Store) CreateFeederInstance(installID, siteID, instanceID string) (*models.FeederInstance, error) {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	inst := &models.FeederInstance{
		InstanceID:            instanceID,
		InstallID:             installID,
		SiteID:                siteID,
		Source:                "inbound",
		RequiresConfiguration: true,
	}
	if err := s.db.Create(inst).Error; err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Store) FeederInstance(instanceID string) (*models.FeederInstance, error) {
	var inst models.FeederInstance
	err := s.db.Where("instance_id = ? AND is_deleted = ?", instanceID, false).First(&inst).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &inst, nil
}

func (s *Store) SaveFeederInstance(inst *models.FeederInstance) error {
	return s.db.Save(inst).Error
}

func (s *Store) CopyFeederInstance(instanceID string) (*models.FeederInstance, error) {
	src, err := s.FeederInstance(instanceID)
	if err != nil {
		return nil, err
	}
	dup := *src
	dup.ID = 0
	dup.InstanceID = uuid.NewString()
	dup.RequiresConfiguration = true
	if err := s.db.Create(&dup).Error; err != nil {
		return nil, err
	}
	return &dup, nil
}

func (s *Store) DeleteFeederInstance(instanceID string) error {
	res := s.db.Model(&models.FeederInstance{}).
		Where("instance_id = ?", instanceID).
		Update("is_deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FeedersForInstall returns the live feeders of a tenant.
func (s *Store) FeedersForInstall(installID string) ([]models.FeederInstance, error) {
	var out []models.FeederInstance
	err := s.db.Where("install_id = ? AND is_deleted = ?", installID, false).Find(&out).Error
	return out, err
}

// ActiveFeeders returns every live feeder across tenants, for the flush sweep.
func (s *Store) ActiveFeeders() ([]models.FeederInstance, error) {
	var out []models.FeederInstance
	err := s.db.Where("is_deleted = ? AND requires_configuration = ?", false, false).Find(&out).Error
	return out, err
}

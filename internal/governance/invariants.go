package governance

// IsBootstrap reports whether a group is small enough to run without the
// two-manager minimum.
func IsBootstrap(c RoleCounts) bool {
	return c.Total() <= bootstrapMaxMembers
}

// ManagerCount is the size of the voting pool: founders plus managers.
func ManagerCount(c RoleCounts) int {
	return c.Founders + c.Managers
}

// WouldViolateMinManagers reports whether a group whose counts are c would breach
// the anti-centralization rule if its manager pool shrank to hypotheticalManagers.
// Every call site contemplating a manager-count reduction goes through here.
func WouldViolateMinManagers(c RoleCounts, hypotheticalManagers int) bool {
	return !IsBootstrap(c) && hypotheticalManagers < minManagers
}

// BelowMinimum reports whether the group already breaches the rule.
func BelowMinimum(c RoleCounts) bool {
	return WouldViolateMinManagers(c, ManagerCount(c))
}

// admissionBlocked reports whether adding one member would leave the group
// outside bootstrap mode with fewer than two managers.
func admissionBlocked(c RoleCounts) bool {
	return c.Total()+1 > bootstrapMaxMembers && ManagerCount(c) < minManagers
}

// reducesManagers reports whether executing a person action on a target holding
// role would shrink the manager pool.
func reducesManagers(action ActionType, role Role) bool {
	switch action {
	case ActionDemote, ActionRevertPromotion, ActionReconfirmManager:
		return true
	case ActionKick:
		return role.IsManager()
	}
	return false
}

// checkTargetRole validates that an action is coherent with the target's current
// role. The founder is never a valid target. revert_removal requires the target
// to hold no membership at all.
func checkTargetRole(action ActionType, role Role) error {
	if role == RoleFounder {
		return ErrFounderImmune
	}
	if action == ActionRevertRemoval {
		if role != RoleNone {
			return wrapf(ErrInvalidState, "target is already a member")
		}
		return nil
	}
	if role == RoleNone {
		return wrapf(ErrNotFound, "target is not a member of this group")
	}
	switch action {
	case ActionDemote, ActionRevertPromotion, ActionReconfirmManager:
		if role != RoleManager {
			return wrapf(ErrInvalidState, "%s requires the target to be a manager", action)
		}
	case ActionPromote, ActionRevertDemotion:
		if role != RoleMember {
			return wrapf(ErrInvalidState, "%s requires the target to be a member", action)
		}
	}
	return nil
}
